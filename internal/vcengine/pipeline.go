package vcengine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tphakala/rtvc/internal/errors"
	"github.com/tphakala/rtvc/internal/logging"
)

// stopJoinTimeout bounds how long Stop waits for the worker goroutine to
// exit before giving up and marking the pipeline Failed (§4.6).
const stopJoinTimeout = 2 * time.Second

// idlePollInterval is how long the worker sleeps when input_buf holds fewer
// than CS samples, to avoid a busy loop.
const idlePollInterval = 5 * time.Millisecond

// Pipeline orchestrates one buffer manager, one conversion backend, and the
// dedicated inference worker goroutine that drains input_buf into
// output_buf (§4.6). A Pipeline is safe for concurrent ProcessInput,
// GetOutput, Metrics, and Stop calls from multiple goroutines; only the
// worker goroutine itself calls the backend.
type Pipeline struct {
	id  string
	cfg ConversionConfig

	backend   ConversionBackend
	buffers   *bufferManager
	metrics   *metricsState
	collector *MetricsCollector
	logger    *slog.Logger

	mu    sync.Mutex
	state PipelineState

	stopCh chan struct{}
	doneCh chan struct{}

	metricsCallback   func(Metrics)
	metricsStopCh     chan struct{}
	metricsCallbackWG sync.WaitGroup
}

// NewPipeline validates cfg and constructs a Pipeline in state Created. The
// backend is not initialized until Start.
func NewPipeline(id string, cfg ConversionConfig, backend ConversionBackend, collector *MetricsCollector) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.ForService("vcengine-pipeline")
	if logger == nil {
		logger = slog.Default().With("service", "vcengine-pipeline")
	}
	return &Pipeline{
		id:        id,
		cfg:       cfg,
		backend:   backend,
		buffers:   newBufferManager(cfg.ChunkSize),
		metrics:   newMetricsState(collector),
		collector: collector,
		logger:    logger.With("pipeline", id),
		state:     StateCreated,
	}, nil
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start initializes the backend and launches the worker goroutine. It is
// only legal from Created or Stopped; calling it from any other state
// returns an error without side effects.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateCreated && p.state != StateStopped {
		state := p.state
		p.mu.Unlock()
		return stateErr(fmt.Sprintf("Start is invalid from state %q", state))
	}
	p.mu.Unlock()

	if err := p.backend.Initialize(ctx); err != nil {
		p.mu.Lock()
		p.state = StateFailed
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.state = StateRunning
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runWorker()
	p.logger.Info("pipeline started", "chunk_size", p.cfg.ChunkSize, "backend", p.cfg.Backend)
	return nil
}

// Stop signals the worker to exit and waits up to stopJoinTimeout for it to
// do so. If the worker exits in time, Stop runs backend cleanup and marks the
// pipeline Stopped; otherwise it marks it Failed without touching the
// backend, and a later Stop call waits for the worker again. Idempotent:
// calling Stop on an already Stopped or Created pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	switch p.state {
	case StateCreated, StateStopped:
		p.mu.Unlock()
		return nil
	case StateStopping:
		doneCh := p.doneCh
		p.mu.Unlock()
		<-doneCh
		return nil
	case StateFailed:
		if p.stopCh == nil {
			// Start failed before any worker was launched.
			p.mu.Unlock()
			return nil
		}
	}
	p.state = StateStopping
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	select {
	case <-stopCh:
		// Already closed by an earlier Stop whose join timed out.
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		p.stopMetricsCallback()

		if err := p.backend.Cleanup(); err != nil {
			p.logger.Warn("backend cleanup failed", "error", err)
		}

		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		p.logger.Info("pipeline stopped")
	case <-time.After(stopJoinTimeout):
		p.logger.Error("worker did not exit within stop timeout, marking pipeline failed")
		p.stopMetricsCallback()

		p.mu.Lock()
		p.state = StateFailed
		p.mu.Unlock()
	}

	return nil
}

// ProcessInput enqueues captured samples into input_buf. It is valid only
// while the pipeline is Running; calls made in any other state are
// rejected so silently-dropped audio never masquerades as delivered audio.
func (p *Pipeline) ProcessInput(samples []Sample) error {
	p.mu.Lock()
	running := p.state == StateRunning
	p.mu.Unlock()
	if !running {
		return stateErr("ProcessInput requires the pipeline to be running")
	}
	if i, ok := firstNonFinite(samples); !ok {
		return validationErr("sample at index %d is NaN or infinite", i)
	}
	p.buffers.writeInput(samples)
	return nil
}

// firstNonFinite returns the index of the first NaN or infinite sample, and
// false, or (0, true) if every sample is finite.
func firstNonFinite(samples []Sample) (int, bool) {
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return i, false
		}
	}
	return 0, true
}

// GetOutput drains up to n converted samples from output_buf. It may be
// called in any state, including after Stop, to flush remaining output.
func (p *Pipeline) GetOutput(n int) []Sample {
	return p.buffers.readOutput(n)
}

// Reset clears all three ring buffers and their drop counters. It is only
// legal while the pipeline is not Running.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	running := p.state == StateRunning
	p.mu.Unlock()
	if running {
		return errNotRunning
	}
	p.buffers.reset()
	return nil
}

// Metrics returns a non-blocking snapshot of the pipeline's counters,
// gauges, and current buffer fill levels.
func (p *Pipeline) Metrics() Metrics {
	health := p.buffers.bufferHealth()
	if p.collector != nil {
		p.collector.observeBufferHealth(health)
	}
	return p.metrics.snapshot(health.InputFill, health.OutputFill)
}

// SetMetricsCallback registers fn to be invoked with a fresh Metrics
// snapshot every intervalMs while the pipeline is running. Passing a nil fn
// stops any previously registered callback.
func (p *Pipeline) SetMetricsCallback(fn func(Metrics), intervalMs int) {
	p.stopMetricsCallback()
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.metricsCallback = fn
	stop := make(chan struct{})
	p.metricsStopCh = stop
	p.mu.Unlock()

	interval := time.Duration(intervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	p.metricsCallbackWG.Add(1)
	go func() {
		defer p.metricsCallbackWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn(p.Metrics())
			}
		}
	}()
}

func (p *Pipeline) stopMetricsCallback() {
	p.mu.Lock()
	stop := p.metricsStopCh
	p.metricsStopCh = nil
	p.metricsCallback = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	p.metricsCallbackWG.Wait()
}

// runWorker is the single inference worker goroutine: it drains CS-sized
// chunks from input_buf, converts them, and writes results to output_buf
// until stopCh closes (§4.6, §5).
func (p *Pipeline) runWorker() {
	defer close(p.doneCh)
	ctx := context.Background()
	chunkMs := 1000.0 * float64(p.cfg.ChunkSize) / float64(p.cfg.SampleRate)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		chunk, chunkCtx, ok := p.buffers.readChunkForProcessing()
		if !ok {
			select {
			case <-p.stopCh:
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		start := time.Now()
		out, err := p.backend.ConvertChunk(ctx, chunk, chunkCtx)
		if err != nil && errors.IsRetryable(err) {
			out, err = p.backend.ConvertChunk(ctx, chunk, chunkCtx)
		}

		if err != nil {
			if errors.IsCategory(err, errors.CategoryWorkerFault) {
				p.logger.Error("worker fault, transitioning pipeline to failed", "error", err)
				p.mu.Lock()
				p.state = StateFailed
				p.mu.Unlock()
				return
			}
			p.logger.Warn("chunk conversion failed, substituting silence", "error", err)
			p.metrics.recordDropped()
			p.buffers.writeOutput(make([]Sample, p.cfg.ChunkSize))
			continue
		}

		p.buffers.writeOutput(out)

		dtMs := float64(time.Since(start)) / float64(time.Millisecond)
		outputBufMs := 1000.0 * float64(p.buffers.outputBuf.Size()) / float64(p.cfg.SampleRate)
		p.metrics.recordProcessed(dtMs, chunkMs, outputBufMs)
	}
}

func stateErr(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("vcengine").
		Category(errors.CategoryState).
		Build()
}
