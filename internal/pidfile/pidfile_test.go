package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCreatesFileWithCurrentPID(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "aentropyd.pid")
	require.NoError(t, Write(path))

	var data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestWriteEmptyPathIsNoOp(t *testing.T) {
	assert.NoError(t, Write(""))
}

func TestRemoveDeletesFile(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "aentropyd.pid")
	require.NoError(t, Write(path))
	require.NoError(t, Remove(path))

	var _, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "never-written.pid")
	assert.NoError(t, Remove(path))
}

func TestRemoveEmptyPathIsNoOp(t *testing.T) {
	assert.NoError(t, Remove(""))
}
