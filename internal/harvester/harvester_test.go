package harvester

import (
	"context"
	"os"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenfeld/aentropyd/internal/audiosource"
	"github.com/wrenfeld/aentropyd/internal/config"
)

type fakeSource struct {
	closed bool
}

func (f *fakeSource) ReadInterleaved(out []int16) error {
	for i := range out {
		out[i] = int16(i % 7)
	}
	return nil
}

func (f *fakeSource) Format() audiosource.Endianness { return audiosource.LittleEndian }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeSink struct {
	closed       bool
	poolMax      int
	submitted    [][]byte
	addedEntropy int
}

func (f *fakeSink) Submit(buf []byte, bits int) (int, error) {
	f.submitted = append(f.submitted, buf)
	return bits, nil
}

func (f *fakeSink) WaitUntilLow() error { return nil }

func (f *fakeSink) EntropyCount() (int, error) { return 0, nil }

func (f *fakeSink) PoolMaxBits() (int, error) { return f.poolMax, nil }

func (f *fakeSink) AddToEntropyCount(bits int) error {
	f.addedEntropy += bits
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func testLogger() *charmlog.Logger {
	return charmlog.NewWithOptions(os.Stderr, charmlog.Options{Level: charmlog.FatalLevel})
}

func TestRunBroadbandReturnsPromptlyOnShutdown(t *testing.T) {
	var cfg = config.Default()
	cfg.SkipHealthCheck = true
	var source = &fakeSource{}
	var sink = &fakeSink{poolMax: 4096}

	var h, err = New(cfg, testLogger(), source, sink, func() bool { return true })
	require.NoError(t, err)

	assert.NoError(t, h.RunBroadband(context.Background()))
}

func TestRunSpikeReturnsPromptlyOnShutdownWithoutReading(t *testing.T) {
	var cfg = config.Default()
	cfg.SpikeMode = true
	var readCount int
	var source = &countingSource{onRead: func() { readCount++ }}
	var sink = &fakeSink{poolMax: 4096}

	var h, err = New(cfg, testLogger(), source, sink, func() bool { return true })
	require.NoError(t, err)

	assert.NoError(t, h.RunSpike(context.Background(), nil))
	assert.Equal(t, 0, readCount)
}

type countingSource struct {
	onRead func()
}

func (c *countingSource) ReadInterleaved(out []int16) error {
	c.onRead()
	return nil
}

func (c *countingSource) Format() audiosource.Endianness { return audiosource.LittleEndian }

func (c *countingSource) Close() error { return nil }

func TestRunDispatchesOnSpikeMode(t *testing.T) {
	var cfg = config.Default()
	cfg.SpikeMode = true
	var source = &countingSource{onRead: func() {}}
	var sink = &fakeSink{poolMax: 4096}

	var h, err = New(cfg, testLogger(), source, sink, func() bool { return true })
	require.NoError(t, err)

	assert.NoError(t, h.Run(context.Background(), nil))
}

func TestCloseReleasesSourceAndSink(t *testing.T) {
	var cfg = config.Default()
	var source = &fakeSource{}
	var sink = &fakeSink{poolMax: 4096}

	var h, err = New(cfg, testLogger(), source, sink, func() bool { return true })
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.True(t, source.closed)
	assert.True(t, sink.closed)
}

func TestNewConstructsSpikeDetectorAndWhitenerInSpikeMode(t *testing.T) {
	var cfg = config.Default()
	cfg.SpikeMode = true
	var source = &fakeSource{}
	var sink = &fakeSink{poolMax: 4096}

	var h, err = New(cfg, testLogger(), source, sink, nil)
	require.NoError(t, err)
	assert.NotNil(t, h.detector)
	assert.NotNil(t, h.whitener)
	assert.Nil(t, h.extractor)
}

func TestNewConstructsExtractorInBroadbandMode(t *testing.T) {
	var cfg = config.Default()
	var source = &fakeSource{}
	var sink = &fakeSink{poolMax: 4096}

	var h, err = New(cfg, testLogger(), source, sink, nil)
	require.NoError(t, err)
	assert.NotNil(t, h.extractor)
	assert.Nil(t, h.detector)
}
