package harvester

import (
	"fmt"
	"os"

	"github.com/wrenfeld/aentropyd/internal/cipher128"
)

// rawFileSink implements spike.RawSink over the optional raw-output file
// from spec.md §4.6, reopening on truncation/rotation exactly like
// maybe_reopen_raw_out_file() in audio-entropyd.c.
type rawFileSink struct {
	path string
	file *os.File
}

func newRawFileSink(path string) (*rawFileSink, error) {
	var s = &rawFileSink{path: path}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *rawFileSink) reopen() error {
	if s.file != nil {
		if st, err := os.Stat(s.path); err == nil {
			if pos, err := s.file.Seek(0, os.SEEK_CUR); err == nil && pos <= st.Size() {
				return nil
			}
		}
		s.file.Close()
		s.file = nil
	}
	var fh, err = os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("harvester: open raw output %s: %w", s.path, err)
	}
	s.file = fh
	return nil
}

func (s *rawFileSink) WriteBlock(block [cipher128.BlockSize]byte) error {
	if err := s.reopen(); err != nil {
		return err
	}
	var _, werr = s.file.Write(block[:])
	return werr
}
