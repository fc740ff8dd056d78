//go:build !onnxruntime

package vcengine

// This build (the default) has no ONNX Runtime shared library available
// and substitutes deterministic models, following the same
// native/stub split the pack's ONNX-backed VAD plugin uses to stay
// testable without a native dependency present. Build with -tags
// onnxruntime and StreamingBackend.Initialize loads the real models instead.

type stubContentEmbedder struct{ dims int }

func (s *stubContentEmbedder) Embed(samples []Sample) ([][]float32, error) {
	frames := len(samples) / contentHopSamples
	if frames == 0 && len(samples) > 0 {
		frames = 1
	}
	out := make([][]float32, frames)
	for i := range out {
		out[i] = make([]float32, s.dims)
	}
	return out, nil
}
func (s *stubContentEmbedder) Close() error { return nil }

type stubPitchPredictor struct{}

func (s *stubPitchPredictor) Predict(samples []Sample) ([]float32, []bool, error) {
	frames := len(samples) / contentHopSamples
	if frames == 0 && len(samples) > 0 {
		frames = 1
	}
	pitch := make([]float32, frames)
	voiced := make([]bool, frames)
	return pitch, voiced, nil
}
func (s *stubPitchPredictor) Close() error { return nil }

// stubVocoder emits silence sized to match its content-frame input unless
// Ramp is set, in which case it emits a linear ramp 0->1 regardless of
// input — the deterministic model used by the crossfade-seam test in §8
// scenario 5.
type stubVocoder struct {
	Ramp bool
}

func (v *stubVocoder) Synthesize(content [][]float32, pitch []float32, voiced []bool, indexRate float64, pitchShift int) ([]float32, error) {
	n := len(content) * contentHopSamples
	if n == 0 {
		n = contentHopSamples
	}
	out := make([]float32, n)
	if v.Ramp {
		for i := range out {
			out[i] = float32(i) / float32(n-1)
		}
	}
	return out, nil
}
func (v *stubVocoder) Close() error { return nil }

// loadNeuralModels returns the deterministic stub model set.
func loadNeuralModels(cfg ConversionConfig) (*NeuralModels, error) {
	const stubEmbedDims = 256
	return &NeuralModels{
		Embedder: PitchEmbedderPair{
			Content: &stubContentEmbedder{dims: stubEmbedDims},
			Pitch:   &stubPitchPredictor{},
		},
		Vocoder: &stubVocoder{},
	}, nil
}
