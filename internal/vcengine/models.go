package vcengine

// ContentEmbedder extracts a frame-wise content representation from raw
// PCM: float32[N] -> float32[T][D], T ~= N/320 per §6.4.
type ContentEmbedder interface {
	Embed(samples []Sample) (features [][]float32, err error)
	Close() error
}

// PitchPredictor extracts a per-frame pitch track and voiced/unvoiced
// flags: float32[N] -> (float32[T], bool[T]).
type PitchPredictor interface {
	Predict(samples []Sample) (pitch []float32, voiced []bool, err error)
	Close() error
}

// SynthesisVocoder combines content features, pitch, and the retrieval
// index blend into the converted waveform: (content, pitch, index_rate,
// pitch_shift) -> float32[M], M ~= N (+/-1%).
type SynthesisVocoder interface {
	Synthesize(content [][]float32, pitch []float32, voiced []bool, indexRate float64, pitchShift int) (samples []float32, err error)
	Close() error
}

// NeuralModels bundles the three collaborators StreamingBackend depends on,
// all loaded once during Initialize and reused across calls (§4.5, §6.4).
type NeuralModels struct {
	Embedder PitchEmbedderPair
	Vocoder  SynthesisVocoder
}

// PitchEmbedderPair groups the content and pitch collaborators since most
// real submodel families ship them as a paired feature-extraction stage.
type PitchEmbedderPair struct {
	Content ContentEmbedder
	Pitch   PitchPredictor
}

// Close releases every loaded submodel, best-effort.
func (m *NeuralModels) Close() error {
	var firstErr error
	if m.Embedder.Content != nil {
		if err := m.Embedder.Content.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.Embedder.Pitch != nil {
		if err := m.Embedder.Pitch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.Vocoder != nil {
		if err := m.Vocoder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// contentHopSamples approximates the 320-sample-per-frame hop the real
// content embedder contract targets (§6.4), used by stub/onnx
// implementations to size their frame axis consistently.
const contentHopSamples = 320
