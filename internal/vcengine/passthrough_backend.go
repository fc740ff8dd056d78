package vcengine

import "context"

// PassthroughBackend is a ConversionBackend that returns its input chunk
// unchanged. It exists purely as a pipeline-level test double for the
// identity end-to-end scenario (§8): unlike StreamingBackend's stub models,
// which still exercise the normalize/context/crossfade machinery, this
// backend bypasses that machinery entirely.
type PassthroughBackend struct{}

// NewPassthroughBackend constructs a PassthroughBackend. It requires no
// initialization.
func NewPassthroughBackend() *PassthroughBackend { return &PassthroughBackend{} }

func (p *PassthroughBackend) Initialize(ctx context.Context) error { return nil }

func (p *PassthroughBackend) ConvertChunk(ctx context.Context, chunk, _ []Sample) ([]Sample, error) {
	out := make([]Sample, len(chunk))
	copy(out, chunk)
	return out, nil
}

func (p *PassthroughBackend) Cleanup() error { return nil }
