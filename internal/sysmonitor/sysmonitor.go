// Package sysmonitor reports host CPU capability and load, used by the
// stream command to log the detected CPU at startup and warn operators when
// the host is too loaded to sustain real-time conversion deadlines.
package sysmonitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUSpec summarizes the host's CPU for thread-count sizing decisions.
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	HasAVX2          bool
	HasAVX512        bool
}

// DetectCPU inspects the running CPU via cpuid, used once at startup to log
// capabilities relevant to ONNX Runtime's available execution providers.
func DetectCPU() CPUSpec {
	return CPUSpec{
		BrandName:    cpuid.CPU.BrandName,
		LogicalCores: cpuid.CPU.LogicalCores,
		HasAVX2:      cpuid.CPU.Supports(cpuid.AVX2),
		HasAVX512:    cpuid.CPU.Supports(cpuid.AVX512F),
	}
}

// RecommendedWorkerCount returns a sane default thread count for the
// inference worker, capped by what the runtime actually reports as
// available (important inside containers with CPU quotas).
func (c CPUSpec) RecommendedWorkerCount() int {
	available := runtime.NumCPU()
	if c.LogicalCores > 0 && c.LogicalCores < available {
		return c.LogicalCores
	}
	return available
}

// LoadWatchdog periodically samples CPU utilization and warns when it
// crosses a threshold that puts the pipeline's per-chunk deadline at risk.
type LoadWatchdog struct {
	logger        *slog.Logger
	thresholdPct  float64
	sampleWindow  time.Duration
}

// NewLoadWatchdog builds a watchdog that logs a warning whenever a
// sampleWindow-long CPU utilization reading exceeds thresholdPct.
func NewLoadWatchdog(logger *slog.Logger, thresholdPct float64, sampleWindow time.Duration) *LoadWatchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if sampleWindow <= 0 {
		sampleWindow = time.Second
	}
	return &LoadWatchdog{logger: logger, thresholdPct: thresholdPct, sampleWindow: sampleWindow}
}

// Run blocks, sampling CPU load until ctx is canceled.
func (w *LoadWatchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.sampleWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				continue
			}
			if percents[0] >= w.thresholdPct {
				w.logger.Warn("host CPU load may risk real-time deadlines",
					"cpu_percent", percents[0], "threshold_percent", w.thresholdPct)
			}
		}
	}
}
