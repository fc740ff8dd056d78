package audioio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownmixToMonoAveragesChannels(t *testing.T) {
	stereo := []float32{1.0, 0.0, 0.5, 0.5}
	mono := downmixToMono(stereo, 2)
	assert.Equal(t, []float32{0.5, 0.5}, mono)
}

func TestDownmixToMonoPassthroughWhenAlreadyMono(t *testing.T) {
	mono := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, mono, downmixToMono(mono, 1))
}

func TestDuplicateToChannelsRepeatsSamples(t *testing.T) {
	mono := []float32{0.25, -0.25}
	stereo := duplicateToChannels(mono, 2)
	assert.Equal(t, []float32{0.25, 0.25, -0.25, -0.25}, stereo)
}

func TestResampleLinearIdentity(t *testing.T) {
	in := []float32{1, 2, 3, 4}
	out := resampleLinear(in, 48000, 48000)
	assert.Equal(t, in, out)
}

func TestResampleLinearChangesLength(t *testing.T) {
	in := make([]float32, 100)
	out := resampleLinear(in, 24000, 48000)
	assert.InDelta(t, 200, len(out), 2)
}

func TestPrerollBlocksRoundsUp(t *testing.T) {
	cfg := DeviceConfig{ChunkSize: 1000, BlockFrames: 300}
	// ceil(1000/300) + 1 = 4 + 1 = 5
	assert.Equal(t, 5, cfg.prerollBlocks())
}

func TestPrerollBlocksZeroBlockFramesDefaultsToOne(t *testing.T) {
	cfg := DeviceConfig{ChunkSize: 1000}
	assert.Equal(t, 1, cfg.prerollBlocks())
}
