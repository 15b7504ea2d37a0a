package healthlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyPathNeverOpensAFile(t *testing.T) {
	var l, err = New("", 60, 44100, 3)
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

func TestObserveSpikeBitsAccumulatesPopcountAndRetainedBits(t *testing.T) {
	var l, err = New("", 0, 44100, 3)
	require.NoError(t, err)

	l.ObserveSpikeBits(0b1011, 4)
	assert.Equal(t, uint64(3), l.totalPopcount)
	assert.Equal(t, uint64(4), l.totalRetainedBits)

	l.ObserveSpikeBits(0xFF, 8)
	assert.Equal(t, uint64(11), l.totalPopcount)
	assert.Equal(t, uint64(12), l.totalRetainedBits)
}

func TestObserveSpikeBitsIgnoresZeroWidth(t *testing.T) {
	var l, err = New("", 0, 44100, 3)
	require.NoError(t, err)

	l.ObserveSpikeBits(0xFF, 0)
	assert.Equal(t, uint64(0), l.totalPopcount)
	assert.Equal(t, uint64(0), l.totalRetainedBits)
}

func TestObserveBlockBytesTracksSumAndExtremes(t *testing.T) {
	var l, err = New("", 0, 44100, 3)
	require.NoError(t, err)

	l.ObserveBlockBytes([]byte{0x00, 0xff, 0x80})
	assert.Equal(t, uint64(0x00+0xff+0x80), l.totalByteSum)
	assert.Equal(t, uint64(3), l.totalByteDenom)
	assert.Equal(t, uint64(1), l.nAllZeros)
	assert.Equal(t, uint64(1), l.nAllOnes)
}

func TestObserveSpikeTracksPerChannelCounts(t *testing.T) {
	var l, err = New("", 0, 44100, 3)
	require.NoError(t, err)

	l.ObserveSpike(0, 10.0)
	l.ObserveSpike(1, 5.0)
	l.ObserveSpike(0, 20.0)

	assert.Equal(t, uint64(2), l.channelCounts[0])
	assert.Equal(t, uint64(1), l.channelCounts[1])
	assert.Equal(t, uint64(3), l.totalEvents)
	assert.InDelta(t, 30.0, l.channelCumISIHz[0], 0.001)
}

func TestAdvanceSamplePostsOutageAfterIdleWarningPeriod(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "spike.log")
	var l, err = New(path, 0, 44100, 3)
	require.NoError(t, err)

	l.ObserveSpike(0, 10.0)
	l.AdvanceSample(uint64(idleWarningSeconds*44100) + 1)

	var data, rerr = os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "OUTAGE")
}

func TestAdvanceSampleTriggersPeriodicSummary(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "spike.log")
	var l, err = New(path, 1, 44100, 3)
	require.NoError(t, err)

	l.ObserveSpike(0, 10.0)
	l.ObserveSpikeBits(0xFF, 8)
	l.ObserveBlockBytes([]byte{0x11, 0x22})
	l.AdvanceSample(44100)

	var data, rerr = os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "STARTUP")
	assert.Contains(t, string(data), "N C0=")
}

func TestPopcountU64(t *testing.T) {
	assert.Equal(t, 0, popcountU64(0))
	assert.Equal(t, 64, popcountU64(^uint64(0)))
	assert.Equal(t, 1, popcountU64(1))
}
