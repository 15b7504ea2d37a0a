package kernelpool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkSubmitAppendsAndCreditsAllBits(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "out.bin")
	var sink = NewFileSink(path)

	var credited, err = sink.Submit([]byte{0x01, 0x02, 0x03}, 1 /* ignored */)
	require.NoError(t, err)
	assert.Equal(t, 24, credited)

	credited, err = sink.Submit([]byte{0x04}, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, credited)

	var data, rerr = os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data)
}

func TestFileSinkWaitUntilLowNeverBlocks(t *testing.T) {
	var sink = NewFileSink(filepath.Join(t.TempDir(), "out.bin"))
	assert.NoError(t, sink.WaitUntilLow())
}

func TestFileSinkEntropyCountReportsNoTracking(t *testing.T) {
	var sink = NewFileSink(filepath.Join(t.TempDir(), "out.bin"))
	var _, err = sink.EntropyCount()
	assert.ErrorIs(t, err, ErrNoEntropyCount)
}

func TestFileSinkPoolMaxBitsIsFixed(t *testing.T) {
	var sink = NewFileSink(filepath.Join(t.TempDir(), "out.bin"))
	var max, err = sink.PoolMaxBits()
	require.NoError(t, err)
	assert.Equal(t, fileSinkBatchBits, max)
}

func TestFileSinkAddToEntropyCountIsNoOp(t *testing.T) {
	var sink = NewFileSink(filepath.Join(t.TempDir(), "out.bin"))
	assert.NoError(t, sink.AddToEntropyCount(128))
}

func TestFileSinkCloseIsNoOp(t *testing.T) {
	var sink = NewFileSink(filepath.Join(t.TempDir(), "out.bin"))
	assert.NoError(t, sink.Close())
}
