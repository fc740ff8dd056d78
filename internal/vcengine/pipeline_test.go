package vcengine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	vcerrors "github.com/tphakala/rtvc/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pipelineTestConfig() ConversionConfig {
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

func newTestPipeline(t *testing.T, id string, backend ConversionBackend) *Pipeline {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := pipelineTestConfig()
	collector, err := NewMetricsCollector(reg, id, cfg.ChunkSize, 2*cfg.ChunkSize, 4*cfg.ChunkSize)
	require.NoError(t, err)
	p, err := NewPipeline(id, cfg, backend, collector)
	require.NoError(t, err)
	return p
}

func waitForOutput(t *testing.T, p *Pipeline, n int, timeout time.Duration) []Sample {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out := p.GetOutput(n)
		if len(out) == n {
			return out
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d output samples", n)
	return nil
}

// scenario 1 (§8): pass-through identity — a PassthroughBackend must
// deliver input samples unchanged end to end through the pipeline.
func TestPipelinePassthroughIdentityScenario(t *testing.T) {
	p := newTestPipeline(t, "passthrough", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	cfg := pipelineTestConfig()
	chunk := make([]Sample, cfg.ChunkSize)
	for i := range chunk {
		chunk[i] = float32(i%17) / 17.0
	}
	require.NoError(t, p.ProcessInput(chunk))

	out := waitForOutput(t, p, cfg.ChunkSize, time.Second)
	assert.Equal(t, chunk, out)
}

func TestPipelineStateMachineMonotonic(t *testing.T) {
	p := newTestPipeline(t, "state-machine", NewPassthroughBackend())
	assert.Equal(t, StateCreated, p.State())

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, StateRunning, p.State())

	// Starting again from Running is rejected.
	assert.Error(t, p.Start(context.Background()))

	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	p := newTestPipeline(t, "idempotent-stop", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
}

func TestPipelineStartStopStartCycle(t *testing.T) {
	p := newTestPipeline(t, "restart-cycle", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()
	assert.Equal(t, StateRunning, p.State())

	cfg := pipelineTestConfig()
	chunk := make([]Sample, cfg.ChunkSize)
	require.NoError(t, p.ProcessInput(chunk))
	_ = waitForOutput(t, p, cfg.ChunkSize, time.Second)
}

func TestPipelineProcessInputRejectedBeforeStart(t *testing.T) {
	p := newTestPipeline(t, "not-started", NewPassthroughBackend())
	err := p.ProcessInput(make([]Sample, pipelineTestConfig().ChunkSize))
	assert.Error(t, err)
}

func TestPipelineProcessInputRejectsNonFiniteSamples(t *testing.T) {
	p := newTestPipeline(t, "non-finite-input", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	cfg := pipelineTestConfig()

	nanChunk := make([]Sample, cfg.ChunkSize)
	nanChunk[3] = Sample(math.NaN())
	err := p.ProcessInput(nanChunk)
	require.Error(t, err)
	assert.True(t, vcerrors.IsCategory(err, vcerrors.CategoryValidation))
	assert.Equal(t, StateRunning, p.State())

	infChunk := make([]Sample, cfg.ChunkSize)
	infChunk[0] = Sample(math.Inf(1))
	err = p.ProcessInput(infChunk)
	require.Error(t, err)
	assert.True(t, vcerrors.IsCategory(err, vcerrors.CategoryValidation))
	assert.Equal(t, StateRunning, p.State())
}

func TestPipelineResetRequiresNotRunning(t *testing.T) {
	p := newTestPipeline(t, "reset-guard", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Reset(), errNotRunning)
	require.NoError(t, p.Stop())
	assert.NoError(t, p.Reset())
}

// failingBackend always returns a non-retryable backend-convert error,
// standing in for scenario 3 (§8): backend-failure absorption.
type failingBackend struct {
	initErr error
}

func (f *failingBackend) Initialize(ctx context.Context) error { return f.initErr }
func (f *failingBackend) ConvertChunk(ctx context.Context, chunk, context []Sample) ([]Sample, error) {
	return nil, vcerrors.New(errors.New("simulated backend failure")).
		Component("vcengine").
		Category(vcerrors.CategoryBackendConvert).
		Retryable(false).
		Build()
}
func (f *failingBackend) Cleanup() error { return nil }

func TestPipelineAbsorbsBackendFailureAsSilence(t *testing.T) {
	p := newTestPipeline(t, "backend-failure", &failingBackend{})
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	cfg := pipelineTestConfig()
	chunk := make([]Sample, cfg.ChunkSize)
	for i := range chunk {
		chunk[i] = 1.0
	}
	require.NoError(t, p.ProcessInput(chunk))

	out := waitForOutput(t, p, cfg.ChunkSize, time.Second)
	for _, v := range out {
		assert.Equal(t, Sample(0), v)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Metrics().ChunksDropped > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("expected ChunksDropped to be incremented after backend failure")
}

// scenario: ordering under burst input — chunks delivered out of FIFO order
// would indicate a pipeline bug, so a burst of distinguishable chunks must
// come back in the order they were written.
func TestPipelineOrderingUnderBurstInput(t *testing.T) {
	p := newTestPipeline(t, "burst-ordering", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	cfg := pipelineTestConfig()
	// input_buf capacity is 2*CS (§4.2); keep the burst within that bound so
	// no chunk is dropped before the worker has a chance to drain it.
	const bursts = 2
	for b := 0; b < bursts; b++ {
		chunk := make([]Sample, cfg.ChunkSize)
		for i := range chunk {
			chunk[i] = float32(b)
		}
		require.NoError(t, p.ProcessInput(chunk))
	}

	for b := 0; b < bursts; b++ {
		out := waitForOutput(t, p, cfg.ChunkSize, 2*time.Second)
		for _, v := range out {
			assert.Equal(t, Sample(b), v)
		}
	}
}

// hangingBackend blocks inside ConvertChunk until released, used to force
// Stop's worker-join timeout path.
type hangingBackend struct {
	release chan struct{}
}

func (h *hangingBackend) Initialize(ctx context.Context) error { return nil }
func (h *hangingBackend) ConvertChunk(ctx context.Context, chunk, context []Sample) ([]Sample, error) {
	<-h.release
	return chunk, nil
}
func (h *hangingBackend) Cleanup() error { return nil }

func TestPipelineStopMarksFailedOnWorkerJoinTimeout(t *testing.T) {
	backend := &hangingBackend{release: make(chan struct{})}
	p := newTestPipeline(t, "stuck-worker", backend)
	require.NoError(t, p.Start(context.Background()))

	cfg := pipelineTestConfig()
	require.NoError(t, p.ProcessInput(make([]Sample, cfg.ChunkSize)))

	// Give the worker a moment to pick up the chunk and block inside
	// ConvertChunk before Stop races it.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.Stop())
	assert.Equal(t, StateFailed, p.State())

	// Release the worker so it can exit and the goroutine leak detector
	// in TestMain stays clean.
	close(backend.release)
	time.Sleep(50 * time.Millisecond)
}

func TestPipelineMetricsSnapshotReflectsProcessedChunks(t *testing.T) {
	p := newTestPipeline(t, "metrics", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	cfg := pipelineTestConfig()
	require.NoError(t, p.ProcessInput(make([]Sample, cfg.ChunkSize)))
	_ = waitForOutput(t, p, cfg.ChunkSize, time.Second)

	m := p.Metrics()
	assert.GreaterOrEqual(t, m.ChunksProcessed, uint64(1))
	assert.GreaterOrEqual(t, m.EstimatedLatencyMs, 0.0)
}

func TestPipelineMetricsCallbackFiresPeriodically(t *testing.T) {
	p := newTestPipeline(t, "metrics-callback", NewPassthroughBackend())
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	calls := make(chan Metrics, 8)
	p.SetMetricsCallback(func(m Metrics) {
		select {
		case calls <- m:
		default:
		}
	}, 10)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected at least one metrics callback invocation")
	}

	p.SetMetricsCallback(nil, 0)
}
