// Package pidfile manages the daemon's PID file lifecycle named in spec.md
// §6 "Persisted state", ported from write_pidfile() in proc.c: the original
// simply fopen/fprintf/fclose's the running PID; this keeps that shape but
// adds an explicit Remove for the shutdown path (the C original never
// cleaned up its PID file on exit).
package pidfile

import (
	"fmt"
	"os"
	"strconv"
)

// Write creates (or truncates) path and writes the current process ID,
// matching write_pidfile()'s fprintf(fh, "%i", getpid()).
func Write(path string) error {
	if path == "" {
		return nil
	}

	var fh, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("pidfile: create %s: %w", path, err)
	}
	defer fh.Close()

	if _, err := fh.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return nil
}

// Remove deletes path, ignoring a not-exist error so a repeated shutdown
// path (e.g. signal arriving twice) is harmless.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: remove %s: %w", path, err)
	}
	return nil
}
