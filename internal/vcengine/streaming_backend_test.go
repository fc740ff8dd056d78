package vcengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamingTestConfig() ConversionConfig {
	return ConversionConfig{
		ModelID:     "test-model",
		ChunkSize:   1024,
		SampleRate:  WorkingSampleRate,
		PitchShift:  0,
		IndexRate:   0.5,
		PitchMethod: PitchMethodFallback,
		Backend:     BackendStreaming,
	}
}

func TestStreamingBackendReturnsChunkSizeSamples(t *testing.T) {
	cfg := streamingTestConfig()
	backend := NewStreamingBackend(cfg)
	require.NoError(t, backend.Initialize(context.Background()))
	defer func() { _ = backend.Cleanup() }()

	chunk := make([]Sample, cfg.ChunkSize)
	out, err := backend.ConvertChunk(context.Background(), chunk, nil)
	require.NoError(t, err)
	assert.Len(t, out, cfg.ChunkSize)
}

func TestStreamingBackendFirstChunkHasNoCrossfadeArtifact(t *testing.T) {
	cfg := streamingTestConfig()
	backend := NewStreamingBackend(cfg)
	require.NoError(t, backend.Initialize(context.Background()))
	defer func() { _ = backend.Cleanup() }()

	chunk := make([]Sample, cfg.ChunkSize)
	out, err := backend.ConvertChunk(context.Background(), chunk, nil)
	require.NoError(t, err)
	// The stub vocoder emits silence; with no predecessor to crossfade
	// against, the first chunk must be exactly silent.
	for _, v := range out {
		assert.Equal(t, Sample(0), v)
	}
}

func TestStreamingBackendCrossfadesSeamWithRampModel(t *testing.T) {
	cfg := streamingTestConfig()
	backend := NewStreamingBackend(cfg)
	require.NoError(t, backend.Initialize(context.Background()))
	defer func() { _ = backend.Cleanup() }()

	ramp, ok := backend.models.Vocoder.(*stubVocoder)
	require.True(t, ok, "test requires the stub vocoder build")
	ramp.Ramp = true

	chunk := make([]Sample, cfg.ChunkSize)
	first, err := backend.ConvertChunk(context.Background(), chunk, nil)
	require.NoError(t, err)
	second, err := backend.ConvertChunk(context.Background(), chunk, nil)
	require.NoError(t, err)

	fadeLen := cfg.FadeLen()
	require.GreaterOrEqual(t, len(first), fadeLen)

	// At the seam, the blended first sample of the second chunk must sit
	// between the previous chunk's tail and the new chunk's raw ramp value
	// rather than jumping discontinuously.
	prevTailStart := first[len(first)-fadeLen]
	assert.GreaterOrEqual(t, second[0], Sample(0))
	assert.LessOrEqual(t, second[0], prevTailStart+1)
}

func TestPeakNormalizeLeavesInRangeSamplesUntouched(t *testing.T) {
	in := []Sample{0.1, -0.5, 0.9}
	out, peak := peakNormalize(in)
	assert.Equal(t, Sample(1.0), peak)
	assert.Equal(t, in, out)
}

func TestPeakNormalizeScalesDownOutOfRangeSamples(t *testing.T) {
	in := []Sample{0.5, -2.0, 1.0}
	out, peak := peakNormalize(in)
	assert.Equal(t, Sample(2.0), peak)
	assert.InDelta(t, -1.0, out[1], 1e-6)
}

func TestWithinOnePercent(t *testing.T) {
	assert.True(t, withinOnePercent(1000, 1000))
	assert.True(t, withinOnePercent(1005, 1000))
	assert.False(t, withinOnePercent(1050, 1000))
}

func TestApplyCrossfadeBlendsLinearly(t *testing.T) {
	out := []Sample{10, 10, 10, 10}
	tail := []Sample{0, 0}
	applyCrossfade(out, tail, 2)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 5.0, out[1], 1e-6)
	assert.Equal(t, Sample(10), out[2])
}

func TestPassthroughBackendReturnsInputUnchanged(t *testing.T) {
	backend := NewPassthroughBackend()
	require.NoError(t, backend.Initialize(context.Background()))
	chunk := []Sample{0.1, 0.2, -0.3}
	out, err := backend.ConvertChunk(context.Background(), chunk, nil)
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
	require.NoError(t, backend.Cleanup())
}
