package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsNonPositiveSampleRate(t *testing.T) {
	var cfg = Default()
	cfg.SampleRate = 0
	var err = cfg.Validate()
	require.Error(t, err)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "sample_rate", invalid.Field)
}

func TestValidateRejectsOutOfRangeThresholdPercent(t *testing.T) {
	var cfg = Default()
	cfg.SpikeThresholdPercent = 101
	assert.Error(t, cfg.Validate())

	cfg.SpikeThresholdPercent = -101
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadChannelMask(t *testing.T) {
	var cfg = Default()
	cfg.SpikeChannelMask = 0
	assert.Error(t, cfg.Validate())

	cfg.SpikeChannelMask = 4
	assert.Error(t, cfg.Validate())

	for _, ok := range []int{1, 2, 3} {
		cfg.SpikeChannelMask = ok
		assert.NoError(t, cfg.Validate())
	}
}

func TestValidateRejectsEmptyPIDFile(t *testing.T) {
	var cfg = Default()
	cfg.PIDFile = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadFileOverridesOnlyMentionedFields(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "aentropyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample_rate: 48000\nspike_mode: true\n"), 0o644))

	var cfg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.True(t, cfg.SpikeMode)
	assert.Equal(t, Default().DevicePath, cfg.DevicePath)
	assert.Equal(t, Default().PIDFile, cfg.PIDFile)
}

func TestLoadFileMissingPathErrors(t *testing.T) {
	var _, err = LoadFile("/nonexistent/path/aentropyd.yaml")
	assert.Error(t, err)
}
