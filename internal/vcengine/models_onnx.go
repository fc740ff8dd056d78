//go:build onnxruntime

package vcengine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tphakala/rtvc/internal/errors"
)

// ortInitOnce guards the process-wide ONNX Runtime environment: it may
// only be initialized once regardless of how many NeuralModels are loaded.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func ensureORTInitialized() error {
	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve onnxruntime library: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// resolveORTLibPath mirrors the pack's standard ONNX Runtime lookup order:
// explicit env override, then a lib/<goos>-<goarch>/ directory relative to
// the executable. CWD fallback is gated behind RTVC_DEV_MODE to avoid
// shared-library hijacking.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv("RTVC_ORT_LIB_PATH"); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("RTVC_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("RTVC_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	rel := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, filename)
	relParent := filepath.Join("..", "lib", runtime.GOOS+"-"+runtime.GOARCH, filename)

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		for _, r := range []string{rel, relParent} {
			p := filepath.Join(exeDir, r)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	if os.Getenv("RTVC_DEV_MODE") == "1" {
		if dir, err := os.Getwd(); err == nil {
			for _, r := range []string{rel, relParent} {
				p := filepath.Join(dir, r)
				if _, err := os.Stat(p); err == nil {
					return p, nil
				}
			}
		}
	}

	return "", fmt.Errorf("onnxruntime shared library %s not found (set RTVC_ORT_LIB_PATH, or RTVC_DEV_MODE=1 for cwd lookup)", filename)
}

func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// onnxContentEmbedder wraps an ONNX Runtime session implementing the
// content-embedder contract of §6.4: float32[N] -> float32[T,D].
type onnxContentEmbedder struct {
	session     *ort.AdvancedSession
	inputTensor *ort.Tensor[float32]
	outTensor   *ort.Tensor[float32]
	dims        int
	maxSamples  int
}

func newONNXContentEmbedder(modelPath string, maxSamples, dims int) (*onnxContentEmbedder, error) {
	if err := ensureORTInitialized(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read content embedder model: %w", err)
	}

	frames := maxSamples / contentHopSamples
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxSamples)))
	if err != nil {
		return nil, fmt.Errorf("create content embedder input tensor: %w", err)
	}
	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(frames), int64(dims)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create content embedder output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		data,
		[]string{"audio"},
		[]string{"features"},
		[]ort.Value{inputTensor},
		[]ort.Value{outTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outTensor.Destroy()
		return nil, fmt.Errorf("create content embedder session: %w", err)
	}

	return &onnxContentEmbedder{
		session:     session,
		inputTensor: inputTensor,
		outTensor:   outTensor,
		dims:        dims,
		maxSamples:  maxSamples,
	}, nil
}

func (e *onnxContentEmbedder) Embed(samples []Sample) ([][]float32, error) {
	data := e.inputTensor.GetData()
	for i := range data {
		data[i] = 0
	}
	copy(data, samples)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("content embedder inference: %w", err)
	}

	frames := len(samples) / contentHopSamples
	if frames == 0 && len(samples) > 0 {
		frames = 1
	}
	out := e.outTensor.GetData()
	features := make([][]float32, frames)
	for t := 0; t < frames; t++ {
		features[t] = append([]float32(nil), out[t*e.dims:(t+1)*e.dims]...)
	}
	return features, nil
}

func (e *onnxContentEmbedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outTensor != nil {
		e.outTensor.Destroy()
	}
	return nil
}

// onnxPitchPredictor wraps an ONNX Runtime session implementing
// float32[N] -> (float32[T], bool[T]).
type onnxPitchPredictor struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	pitchTensor  *ort.Tensor[float32]
	voicedTensor *ort.Tensor[float32]
	maxSamples   int
}

func newONNXPitchPredictor(modelPath string, maxSamples int) (*onnxPitchPredictor, error) {
	if err := ensureORTInitialized(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read pitch predictor model: %w", err)
	}

	frames := maxSamples / contentHopSamples
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxSamples)))
	if err != nil {
		return nil, fmt.Errorf("create pitch predictor input tensor: %w", err)
	}
	pitchTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(frames)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create pitch tensor: %w", err)
	}
	voicedTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(frames)))
	if err != nil {
		inputTensor.Destroy()
		pitchTensor.Destroy()
		return nil, fmt.Errorf("create voiced tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		data,
		[]string{"audio"},
		[]string{"pitch", "voiced"},
		[]ort.Value{inputTensor},
		[]ort.Value{pitchTensor, voicedTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		pitchTensor.Destroy()
		voicedTensor.Destroy()
		return nil, fmt.Errorf("create pitch predictor session: %w", err)
	}

	return &onnxPitchPredictor{
		session:      session,
		inputTensor:  inputTensor,
		pitchTensor:  pitchTensor,
		voicedTensor: voicedTensor,
		maxSamples:   maxSamples,
	}, nil
}

func (p *onnxPitchPredictor) Predict(samples []Sample) ([]float32, []bool, error) {
	data := p.inputTensor.GetData()
	for i := range data {
		data[i] = 0
	}
	copy(data, samples)

	if err := p.session.Run(); err != nil {
		return nil, nil, fmt.Errorf("pitch predictor inference: %w", err)
	}

	frames := len(samples) / contentHopSamples
	if frames == 0 && len(samples) > 0 {
		frames = 1
	}
	pitchOut := p.pitchTensor.GetData()[:frames]
	voicedOut := p.voicedTensor.GetData()[:frames]

	pitch := append([]float32(nil), pitchOut...)
	voiced := make([]bool, frames)
	for i, v := range voicedOut {
		voiced[i] = v >= 0.5
	}
	return pitch, voiced, nil
}

func (p *onnxPitchPredictor) Close() error {
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.pitchTensor != nil {
		p.pitchTensor.Destroy()
	}
	if p.voicedTensor != nil {
		p.voicedTensor.Destroy()
	}
	return nil
}

// onnxVocoder wraps the synthesis network + vocoder contract of §6.4:
// (content, pitch, index_rate, pitch_shift) -> float32[M].
type onnxVocoder struct {
	session       *ort.AdvancedSession
	contentTensor *ort.Tensor[float32]
	pitchTensor   *ort.Tensor[float32]
	paramsTensor  *ort.Tensor[float32]
	outTensor     *ort.Tensor[float32]
	dims          int
	maxFrames     int
}

func newONNXVocoder(modelPath string, maxFrames, dims int) (*onnxVocoder, error) {
	if err := ensureORTInitialized(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read synthesis/vocoder model: %w", err)
	}

	contentTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxFrames), int64(dims)))
	if err != nil {
		return nil, fmt.Errorf("create vocoder content tensor: %w", err)
	}
	pitchTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxFrames)))
	if err != nil {
		contentTensor.Destroy()
		return nil, fmt.Errorf("create vocoder pitch tensor: %w", err)
	}
	paramsTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2)) // [index_rate, pitch_shift]
	if err != nil {
		contentTensor.Destroy()
		pitchTensor.Destroy()
		return nil, fmt.Errorf("create vocoder params tensor: %w", err)
	}
	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxFrames*contentHopSamples)))
	if err != nil {
		contentTensor.Destroy()
		pitchTensor.Destroy()
		paramsTensor.Destroy()
		return nil, fmt.Errorf("create vocoder output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		data,
		[]string{"content", "pitch", "params"},
		[]string{"audio"},
		[]ort.Value{contentTensor, pitchTensor, paramsTensor},
		[]ort.Value{outTensor},
		nil,
	)
	if err != nil {
		contentTensor.Destroy()
		pitchTensor.Destroy()
		paramsTensor.Destroy()
		outTensor.Destroy()
		return nil, fmt.Errorf("create vocoder session: %w", err)
	}

	return &onnxVocoder{
		session:       session,
		contentTensor: contentTensor,
		pitchTensor:   pitchTensor,
		paramsTensor:  paramsTensor,
		outTensor:     outTensor,
		dims:          dims,
		maxFrames:     maxFrames,
	}, nil
}

func (v *onnxVocoder) Synthesize(content [][]float32, pitch []float32, voiced []bool, indexRate float64, pitchShift int) ([]float32, error) {
	contentData := v.contentTensor.GetData()
	for i := range contentData {
		contentData[i] = 0
	}
	for t, frame := range content {
		copy(contentData[t*v.dims:(t+1)*v.dims], frame)
	}

	pitchData := v.pitchTensor.GetData()
	for i := range pitchData {
		pitchData[i] = 0
	}
	copy(pitchData, pitch)

	params := v.paramsTensor.GetData()
	params[0] = float32(indexRate)
	params[1] = float32(pitchShift)

	if err := v.session.Run(); err != nil {
		return nil, fmt.Errorf("synthesis/vocoder inference: %w", err)
	}

	n := len(content) * contentHopSamples
	return append([]float32(nil), v.outTensor.GetData()[:n]...), nil
}

func (v *onnxVocoder) Close() error {
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	if v.contentTensor != nil {
		v.contentTensor.Destroy()
	}
	if v.pitchTensor != nil {
		v.pitchTensor.Destroy()
	}
	if v.paramsTensor != nil {
		v.paramsTensor.Destroy()
	}
	if v.outTensor != nil {
		v.outTensor.Destroy()
	}
	return nil
}

// embedderDims is model-specific; RVC content encoders conventionally
// produce 256-dimensional features.
const embedderDims = 256

// loadNeuralModels loads the three ONNX Runtime-backed submodels named in
// cfg. Tensor sizing is bounded by the chunk size plus one context window
// (§4.5 step 2).
func loadNeuralModels(cfg ConversionConfig) (*NeuralModels, error) {
	maxSamples := cfg.ChunkSize + cfg.ContextSize()
	maxFrames := maxSamples/contentHopSamples + 1

	content, err := newONNXContentEmbedder(cfg.ContentModelPath, maxSamples, embedderDims)
	if err != nil {
		return nil, initErr(err, "content_embedder")
	}
	pitch, err := newONNXPitchPredictor(cfg.PitchModelPath, maxSamples)
	if err != nil {
		_ = content.Close()
		return nil, initErr(err, "pitch_predictor")
	}
	vocoder, err := newONNXVocoder(cfg.SynthesisModelPath, maxFrames, embedderDims)
	if err != nil {
		_ = content.Close()
		_ = pitch.Close()
		return nil, initErr(err, "synthesis_vocoder")
	}

	return &NeuralModels{
		Embedder: PitchEmbedderPair{Content: content, Pitch: pitch},
		Vocoder:  vocoder,
	}, nil
}

func initErr(cause error, submodel string) error {
	return errors.New(cause).
		Component("vcengine").
		Category(errors.CategoryBackendInit).
		Context("submodel", submodel).
		Build()
}
