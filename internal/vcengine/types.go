// Package vcengine implements the real-time voice-conversion streaming
// engine: buffer management, the interchangeable conversion backends
// (file-batch adapter and native streaming backend), and the orchestrating
// pipeline with its dedicated inference worker.
package vcengine

import (
	"math"

	"github.com/tphakala/rtvc/internal/errors"
)

// Sample is a single mono PCM sample in [-1.0, 1.0].
type Sample = float32

// MinChunkSize and MaxChunkSize bound the configurable chunk size.
const (
	MinChunkSize = 1024
	MaxChunkSize = 16384

	// WorkingSampleRate is the only accepted sample rate; Validate rejects
	// any other.
	WorkingSampleRate = 48000

	MinPitchShift = -24
	MaxPitchShift = 24
)

// PitchMethod selects the pitch-extraction algorithm used by the streaming
// backend's pitch predictor.
type PitchMethod string

const (
	PitchMethodRMVPE    PitchMethod = "rmvpe"
	PitchMethodFallback PitchMethod = "fallback"
)

// BackendKind selects which ConversionBackend implementation a pipeline
// uses. It is the "closed variant" called for in the redesign notes: a
// single field picked at pipeline creation, rather than open-ended dynamic
// polymorphism.
type BackendKind string

const (
	BackendBatchAdapter   BackendKind = "batch_adapter"
	BackendStreaming      BackendKind = "streaming_backend"
)

// ConversionConfig is an immutable bundle of parameters frozen at pipeline
// creation. Validate must be called (NewPipeline does this automatically) before
// the config is used to build a Pipeline.
type ConversionConfig struct {
	ModelID      string
	ChunkSize    int
	SampleRate   int
	PitchShift   int
	IndexRate    float64
	PitchMethod  PitchMethod
	Backend      BackendKind

	// BatchAdapter-specific options.
	ConverterPath string   // external file-batch converter binary
	ConverterArgs []string // extra fixed args appended to every invocation
	ScratchDir    string   // temp directory root; "" uses os.TempDir()
	UseRMVPE      bool

	// StreamingBackend-specific options.
	ContentModelPath   string
	PitchModelPath     string
	SynthesisModelPath string
}

// ContextSize is CS/4, the width of the left-context window carried between
// chunks.
func (c ConversionConfig) ContextSize() int {
	return c.ChunkSize / 4
}

// FadeLen is max(1, round(0.1*CS)), the crossfade width used by the
// streaming backend.
func (c ConversionConfig) FadeLen() int {
	fade := int(math.Round(0.1 * float64(c.ChunkSize)))
	if fade < 1 {
		fade = 1
	}
	return fade
}

// Validate checks every field against its declared range and returns a
// ValidationError-categorized *errors.EnhancedError on the first violation.
func (c ConversionConfig) Validate() error {
	switch {
	case c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize:
		return validationErr("chunk_size out of range [%d,%d]: %d", MinChunkSize, MaxChunkSize, c.ChunkSize)
	case c.SampleRate != WorkingSampleRate:
		return validationErr("sample_rate must be %d, got %d", WorkingSampleRate, c.SampleRate)
	case c.PitchShift < MinPitchShift || c.PitchShift > MaxPitchShift:
		return validationErr("pitch_shift out of range [%d,%d]: %d", MinPitchShift, MaxPitchShift, c.PitchShift)
	case c.IndexRate < 0.0 || c.IndexRate > 1.0:
		return validationErr("index_rate out of range [0.0,1.0]: %f", c.IndexRate)
	case c.PitchMethod != PitchMethodRMVPE && c.PitchMethod != PitchMethodFallback:
		return validationErr("unknown pitch_method: %q", c.PitchMethod)
	case c.Backend != BackendBatchAdapter && c.Backend != BackendStreaming:
		return validationErr("unknown backend: %q", c.Backend)
	}
	return nil
}

func validationErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("vcengine").
		Category(errors.CategoryValidation).
		Build()
}

// PipelineState is the pipeline's lifecycle state.
type PipelineState string

const (
	StateCreated  PipelineState = "created"
	StateRunning  PipelineState = "running"
	StateStopping PipelineState = "stopping"
	StateStopped  PipelineState = "stopped"
	StateFailed   PipelineState = "failed"
)

// BufferHealth reports ring-buffer occupancy and drop counters.
type BufferHealth struct {
	InputFill    int
	OutputFill   int
	ContextFill  int
	InputDrops   uint64
	OutputDrops  uint64
}

// Metrics is a non-blocking snapshot of a pipeline's counters and gauges.
type Metrics struct {
	ChunksProcessed     uint64
	ChunksDropped       uint64
	LastProcessingMs    float64
	EMAProcessingMs     float64
	EstimatedLatencyMs  float64
	InputFill           int
	OutputFill          int
}
