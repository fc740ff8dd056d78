package vcengine

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// emaAlpha is the exponential-moving-average smoothing factor for
// processing time, fixed per §3.
const emaAlpha = 0.2

// metricsState holds a pipeline's counters and gauges. ChunksProcessed and
// ChunksDropped are plain atomics (never torn individually); the
// float64-derived gauges (last/EMA/estimated latency) are guarded by a
// small mutex since they are read-modify-write on every chunk and a
// consistent combined snapshot is cheap to provide via Snapshot.
type metricsState struct {
	chunksProcessed atomic.Uint64
	chunksDropped   atomic.Uint64

	mu                 sync.Mutex
	lastProcessingMs   float64
	emaProcessingMs    float64
	estimatedLatencyMs float64

	collector *MetricsCollector
}

func newMetricsState(collector *MetricsCollector) *metricsState {
	return &metricsState{collector: collector}
}

// recordProcessed updates counters after a successful ConvertChunk call.
// dtMs is the measured processing duration in milliseconds; chunkMs is the
// chunk's duration at the working sample rate; outputBufMs is the output
// buffer's current occupancy expressed in milliseconds.
func (m *metricsState) recordProcessed(dtMs, chunkMs, outputBufMs float64) {
	m.chunksProcessed.Add(1)

	m.mu.Lock()
	m.lastProcessingMs = dtMs
	if m.emaProcessingMs == 0 {
		m.emaProcessingMs = dtMs
	} else {
		m.emaProcessingMs = emaAlpha*dtMs + (1-emaAlpha)*m.emaProcessingMs
	}
	m.estimatedLatencyMs = chunkMs + m.emaProcessingMs + outputBufMs
	snapshot := Metrics{
		ChunksProcessed:    m.chunksProcessed.Load(),
		ChunksDropped:      m.chunksDropped.Load(),
		LastProcessingMs:   m.lastProcessingMs,
		EMAProcessingMs:    m.emaProcessingMs,
		EstimatedLatencyMs: m.estimatedLatencyMs,
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.observe(snapshot)
	}
}

// recordDropped increments the dropped-chunk counter, e.g. after an
// unrecoverable BackendConvertError is absorbed as silence.
func (m *metricsState) recordDropped() {
	m.chunksDropped.Add(1)
	if m.collector != nil {
		m.collector.incDropped()
	}
}

// snapshot returns a non-blocking copy of the current metrics, filled in
// with buffer fill levels supplied by the caller (the pipeline, which has
// access to the buffer manager).
func (m *metricsState) snapshot(inputFill, outputFill int) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		ChunksProcessed:    m.chunksProcessed.Load(),
		ChunksDropped:      m.chunksDropped.Load(),
		LastProcessingMs:   m.lastProcessingMs,
		EMAProcessingMs:    m.emaProcessingMs,
		EstimatedLatencyMs: m.estimatedLatencyMs,
		InputFill:          inputFill,
		OutputFill:         outputFill,
	}
}

// MetricsCollector exports pipeline metrics as Prometheus collectors,
// mirroring the counters and gauges of the Metrics snapshot. Each collector
// serves one pipeline, whose ID it carries as a constant "pipeline" label, so
// several pipelines each get their own collector.
type MetricsCollector struct {
	pipelineID string

	chunksProcessed prometheus.Counter
	chunksDropped   prometheus.Counter
	processingTime  prometheus.Histogram
	estimatedLatency prometheus.Gauge
	inputFillRatio  prometheus.Gauge
	outputFillRatio prometheus.Gauge

	chunkSize  int
	inputCap   int
	outputCap  int
}

// NewMetricsCollector registers a family of metrics for one pipeline
// instance, labeled by pipelineID, against reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the global DefaultRegisterer.
func NewMetricsCollector(reg prometheus.Registerer, pipelineID string, chunkSize, inputCap, outputCap int) (*MetricsCollector, error) {
	c := &MetricsCollector{
		pipelineID: pipelineID,
		chunkSize:  chunkSize,
		inputCap:   inputCap,
		outputCap:  outputCap,
		chunksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtvc_chunks_processed_total",
			Help:        "Chunks successfully converted.",
			ConstLabels: prometheus.Labels{"pipeline": pipelineID},
		}),
		chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rtvc_chunks_dropped_total",
			Help:        "Chunks replaced with silence after a non-retryable backend failure.",
			ConstLabels: prometheus.Labels{"pipeline": pipelineID},
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "rtvc_processing_duration_seconds",
			Help:        "ConvertChunk wall-clock duration.",
			ConstLabels: prometheus.Labels{"pipeline": pipelineID},
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		estimatedLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtvc_estimated_latency_ms",
			Help:        "Estimated end-to-end latency: chunk duration + EMA processing time + output buffer occupancy.",
			ConstLabels: prometheus.Labels{"pipeline": pipelineID},
		}),
		inputFillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtvc_input_buffer_fill_ratio",
			Help:        "input_buf occupancy as a fraction of capacity.",
			ConstLabels: prometheus.Labels{"pipeline": pipelineID},
		}),
		outputFillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtvc_output_buffer_fill_ratio",
			Help:        "output_buf occupancy as a fraction of capacity.",
			ConstLabels: prometheus.Labels{"pipeline": pipelineID},
		}),
	}

	collectors := []prometheus.Collector{
		c.chunksProcessed, c.chunksDropped, c.processingTime,
		c.estimatedLatency, c.inputFillRatio, c.outputFillRatio,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *MetricsCollector) observe(m Metrics) {
	c.chunksProcessed.Inc()
	c.processingTime.Observe(m.LastProcessingMs / 1000.0)
	c.estimatedLatency.Set(m.EstimatedLatencyMs)
}

func (c *MetricsCollector) incDropped() {
	c.chunksDropped.Inc()
}

// observeBufferHealth updates the fill-ratio gauges; called from
// Pipeline.Metrics on each snapshot rather than per-chunk.
func (c *MetricsCollector) observeBufferHealth(h BufferHealth) {
	if c.inputCap > 0 {
		c.inputFillRatio.Set(float64(h.InputFill) / float64(c.inputCap))
	}
	if c.outputCap > 0 {
		c.outputFillRatio.Set(float64(h.OutputFill) / float64(c.outputCap))
	}
}
