// Package stream implements the "stream" subcommand: it wires a
// conf.Settings snapshot into a running vcengine.Pipeline fed by an
// audioio capture/playback device, and blocks until interrupted.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/rtvc/internal/audioio"
	"github.com/tphakala/rtvc/internal/conf"
	"github.com/tphakala/rtvc/internal/logging"
	"github.com/tphakala/rtvc/internal/sysmonitor"
	"github.com/tphakala/rtvc/internal/vcengine"
)

// Command creates the "stream" subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Start real-time voice conversion",
		Long:  "Capture audio from an input device, convert it in real time, and play the result to an output device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Device.CaptureName, "capture", viper.GetString("device.capture_name"), "Capture device name")
	cmd.Flags().StringVar(&settings.Device.PlaybackName, "playback", viper.GetString("device.playback_name"), "Playback device name")
	cmd.Flags().StringVar(&settings.Device.Backend, "device-backend", viper.GetString("device.backend"), "Device backend setting (native or subprocess); this command always opens native devices")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func run(ctx context.Context, settings *conf.Settings) error {
	logger := logging.ForService("stream")

	conf.PrintUserInfo()
	if conf.RunningInContainer() {
		logger.Warn("running inside a container; host audio devices are often unavailable unless explicitly passed through")
	}
	if settings.Conversion.ScratchDir != "" {
		settings.Conversion.ScratchDir = conf.GetBasePath(settings.Conversion.ScratchDir)
	}

	spec := sysmonitor.DetectCPU()
	logger.Info("host CPU detected", "brand", spec.BrandName, "logical_cores", spec.LogicalCores,
		"avx2", spec.HasAVX2, "avx512", spec.HasAVX512)

	watchdog := sysmonitor.NewLoadWatchdog(logger, 90.0, 5*time.Second)
	go watchdog.Run(ctx)

	cfg := vcengine.ConversionConfig{
		ModelID:            settings.Conversion.ModelID,
		ChunkSize:          settings.Conversion.ChunkSize,
		SampleRate:         vcengine.WorkingSampleRate,
		PitchShift:         settings.Conversion.PitchShift,
		IndexRate:          settings.Conversion.IndexRate,
		PitchMethod:        vcengine.PitchMethod(settings.Conversion.PitchMethod),
		Backend:            vcengine.BackendKind(settings.Conversion.Backend),
		ConverterPath:      settings.Conversion.ConverterPath,
		ScratchDir:         settings.Conversion.ScratchDir,
		ContentModelPath:   settings.Conversion.ContentModelPath,
		PitchModelPath:     settings.Conversion.PitchModelPath,
		SynthesisModelPath: settings.Conversion.SynthesisModelPath,
	}

	var backend vcengine.ConversionBackend
	switch cfg.Backend {
	case vcengine.BackendStreaming:
		backend = vcengine.NewStreamingBackend(cfg)
	case vcengine.BackendBatchAdapter:
		backend = vcengine.NewBatchAdapter(cfg)
	default:
		return fmt.Errorf("unknown conversion backend %q", cfg.Backend)
	}

	var collector *vcengine.MetricsCollector
	if settings.Metrics.Enabled {
		var err error
		collector, err = vcengine.NewMetricsCollector(prometheus.DefaultRegisterer, "stream", cfg.ChunkSize, 2*cfg.ChunkSize, 4*cfg.ChunkSize)
		if err != nil {
			return fmt.Errorf("error creating metrics collector: %w", err)
		}
		go serveMetrics(settings.Metrics.Listen, logger)
	}

	pipeline, err := vcengine.NewPipeline("stream", cfg, backend, collector)
	if err != nil {
		return fmt.Errorf("error creating pipeline: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := pipeline.Start(runCtx); err != nil {
		return fmt.Errorf("error starting pipeline: %w", err)
	}
	defer func() {
		if err := pipeline.Stop(); err != nil {
			logger.Warn("error stopping pipeline", "error", err)
		}
	}()

	deviceCfg := audioio.DeviceConfig{
		CaptureDeviceName:  settings.Device.CaptureName,
		PlaybackDeviceName: settings.Device.PlaybackName,
		WorkingSampleRate:  vcengine.WorkingSampleRate,
		BlockFrames:        settings.Device.BlockFrames,
		ChunkSize:          cfg.ChunkSize,
	}

	device := audioio.NewMalgoDevice("stream", deviceCfg, pipeline)
	if err := device.Start(runCtx); err != nil {
		return fmt.Errorf("error starting audio device: %w", err)
	}
	defer func() {
		if err := device.Stop(); err != nil {
			logger.Warn("error stopping audio device", "error", err)
		}
	}()

	logger.Info("streaming started", "chunk_size", cfg.ChunkSize, "backend", cfg.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	return nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
