package vcengine

import (
	"context"
	"math"
	"sync"

	"github.com/tphakala/rtvc/internal/errors"
)

// StreamingBackend implements ConversionBackend as a single in-process
// neural inference pipeline: content embedding, pitch prediction, and
// synthesis/vocoding, with a prepended left-context window and a
// linear crossfade carried across calls (§4.5).
//
// A StreamingBackend instance is not safe for concurrent ConvertChunk calls;
// the owning pipeline's single worker goroutine is the only caller.
type StreamingBackend struct {
	cfg ConversionConfig

	mu       sync.Mutex
	models   *NeuralModels
	prevTail []Sample // trailing fadeLen samples of the previous output chunk
	first    bool     // true until the first ConvertChunk call completes
}

// NewStreamingBackend constructs an uninitialized StreamingBackend. Call
// Initialize before use.
func NewStreamingBackend(cfg ConversionConfig) *StreamingBackend {
	return &StreamingBackend{cfg: cfg, first: true}
}

// Initialize loads the content embedder, pitch predictor, and
// synthesis/vocoder submodels. Which concrete implementation loads depends
// on the onnxruntime build tag (models_onnx.go vs models_stub.go).
func (s *StreamingBackend) Initialize(ctx context.Context) error {
	models, err := loadNeuralModels(s.cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.models = models
	s.prevTail = nil
	s.first = true
	s.mu.Unlock()
	return nil
}

// ConvertChunk runs the chunk plus its left-context window through the
// loaded submodels and crossfades the result against the tail of the
// previous output, per §4.5 steps 1-6.
func (s *StreamingBackend) ConvertChunk(ctx context.Context, chunk, context []Sample) ([]Sample, error) {
	s.mu.Lock()
	models := s.models
	s.mu.Unlock()
	if models == nil {
		return nil, s.convertErr(errors.NewStd("streaming backend not initialized"))
	}

	// Step 1: peak-normalize only if peak exceeds unity.
	normalized, peak := peakNormalize(chunk)

	// Step 2: prepend context to form the model's input window.
	windowed := make([]Sample, 0, len(context)+len(normalized))
	windowed = append(windowed, context...)
	windowed = append(windowed, normalized...)

	// Step 3: run content embedding, pitch prediction, synthesis/vocoding.
	features, err := models.Embedder.Content.Embed(windowed)
	if err != nil {
		return nil, s.convertErr(err)
	}
	pitch, voiced, err := models.Embedder.Pitch.Predict(windowed)
	if err != nil {
		return nil, s.convertErr(err)
	}
	synthesized, err := models.Vocoder.Synthesize(features, pitch, voiced, s.cfg.IndexRate, s.cfg.PitchShift)
	if err != nil {
		return nil, s.convertErr(err)
	}

	// Step 4: discard the portion of model output corresponding to the
	// prepended context, then fit to exactly CS samples. A deviation of more
	// than 1% before fitting indicates a broken model contract and is
	// treated as non-retryable.
	contextOutSamples := len(context)
	if contextOutSamples > len(synthesized) {
		contextOutSamples = len(synthesized)
	}
	trimmed := synthesized[contextOutSamples:]

	if !withinOnePercent(len(trimmed), s.cfg.ChunkSize) {
		return nil, s.convertErr(errors.Newf("synthesis output length %d deviates >1%% from chunk_size %d", len(trimmed), s.cfg.ChunkSize))
	}
	out := fitToChunkSize(trimmed, s.cfg.ChunkSize)

	// Undo the peak normalization from step 1.
	if peak > 1.0 {
		for i := range out {
			out[i] *= peak
		}
	}

	// Step 5: crossfade against the previous chunk's tail; the first chunk
	// is emitted as-is since there is no predecessor.
	s.mu.Lock()
	fadeLen := s.cfg.FadeLen()
	if !s.first {
		applyCrossfade(out, s.prevTail, fadeLen)
	}
	s.first = false
	s.prevTail = tailOf(out, fadeLen)
	s.mu.Unlock()

	// Step 6: return the CS-length chunk.
	return out, nil
}

// Cleanup releases the loaded submodels and clears crossfade state.
func (s *StreamingBackend) Cleanup() error {
	s.mu.Lock()
	models := s.models
	s.models = nil
	s.prevTail = nil
	s.first = true
	s.mu.Unlock()

	if models == nil {
		return nil
	}
	return models.Close()
}

func (s *StreamingBackend) convertErr(cause error) error {
	return errors.New(cause).
		Component("vcengine").
		Category(errors.CategoryBackendConvert).
		Retryable(false).
		Build()
}

// peakNormalize scales samples so the absolute peak is at most 1.0, leaving
// them untouched when already within range. The returned peak lets the
// caller undo the scaling afterward.
func peakNormalize(samples []Sample) (normalized []Sample, peak float32) {
	peak = 0
	for _, v := range samples {
		if abs := float32(math.Abs(float64(v))); abs > peak {
			peak = abs
		}
	}
	if peak <= 1.0 {
		return samples, 1.0
	}
	out := make([]Sample, len(samples))
	for i, v := range samples {
		out[i] = v / peak
	}
	return out, peak
}

// withinOnePercent reports whether got is within 1% of want (at least one
// sample of slack at small chunk sizes).
func withinOnePercent(got, want int) bool {
	if want == 0 {
		return got == 0
	}
	tolerance := int(math.Ceil(0.01 * float64(want)))
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// applyCrossfade linearly blends the first fadeLen samples of out with tail
// (the previous chunk's trailing fadeLen samples), in place.
func applyCrossfade(out, tail []Sample, fadeLen int) {
	n := fadeLen
	if n > len(out) {
		n = len(out)
	}
	if n > len(tail) {
		n = len(tail)
	}
	for i := 0; i < n; i++ {
		t := float32(i) / float32(fadeLen)
		out[i] = tail[len(tail)-n+i]*(1-t) + out[i]*t
	}
}

// tailOf returns a copy of the last n samples of out, or all of out if
// shorter than n.
func tailOf(out []Sample, n int) []Sample {
	if n > len(out) {
		n = len(out)
	}
	if n <= 0 {
		return nil
	}
	tail := make([]Sample, n)
	copy(tail, out[len(out)-n:])
	return tail
}
