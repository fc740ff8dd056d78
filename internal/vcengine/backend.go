package vcengine

import "context"

// ConversionBackend is the capability abstraction implemented by
// BatchAdapter and StreamingBackend. All three operations are synchronous
// and blocking; the pipeline never inspects a backend's internals and never
// calls it from more than one goroutine (the inference worker owns it
// exclusively after Start).
type ConversionBackend interface {
	// Initialize loads whatever the backend needs (model weights, temp
	// directories, sessions) before the worker loop starts. It may take
	// several seconds; the pipeline treats it as part of Pipeline.Start.
	Initialize(ctx context.Context) error

	// ConvertChunk converts a single CS-length chunk, given up to
	// context_size samples of left-context. The returned chunk must be
	// exactly CS samples long.
	ConvertChunk(ctx context.Context, chunk, context []Sample) ([]Sample, error)

	// Cleanup releases model resources and temporary files. It must be
	// idempotent: re-running Initialize after Cleanup restores a clean
	// state.
	Cleanup() error
}
