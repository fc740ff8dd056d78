// Package logging provides structured logging for the conversion engine
// using slog, with optional file rotation via lumberjack.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
	loggerMu            sync.RWMutex
)

var currentStructuredOutputCloser io.Closer
var currentHumanReadableOutputCloser io.Closer

var currentLogLevel = new(slog.LevelVar)
var initOnce sync.Once
var initialized bool

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// defaultReplaceAttr formats timestamps, custom level names, and truncates
// float64 values to 2 decimal places (EMA/latency metrics are noisy otherwise).
func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			label, exists := levelNames[level]
			if !exists {
				label = level.String()
			}
			a.Value = slog.StringValue(label)
		} else {
			a.Value = slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))
		}
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncated := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncated)
	}
	return a
}

// Init sets up the global structured (JSON, to logs/app.log) and
// human-readable (text, to stdout) loggers at Info level.
func Init() {
	initOnce.Do(func() {
		currentLogLevel.Set(slog.LevelInfo)

		if err := os.MkdirAll("logs", 0o755); err != nil { //nolint:gosec
			fmt.Printf("failed to create logs directory: %v\n", err)
			os.Exit(1)
		}

		structuredLogFile, err := os.OpenFile("logs/app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666) //nolint:gosec
		if err != nil {
			fmt.Printf("failed to open structured log file: %v\n", err)
			structuredLogFile = os.Stderr
		}
		if structuredLogFile != os.Stderr {
			currentStructuredOutputCloser = structuredLogFile
		} else {
			currentStructuredOutputCloser = nil
		}

		structuredHandler := slog.NewJSONHandler(structuredLogFile, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		currentHumanReadableOutputCloser = nil
		humanReadableHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		loggerMu.Lock()
		structuredLogger = slog.New(structuredHandler)
		humanReadableLogger = slog.New(humanReadableHandler)
		loggerMu.Unlock()

		slog.SetDefault(structuredLogger)
		initialized = true
	})
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool { return initialized }

// SetLevel changes the logging level shared by all loggers.
func SetLevel(level slog.Level) { currentLogLevel.Set(level) }

// SetOutput redirects both loggers to the given writers, closing any
// previously opened closable writers first.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) error {
	if structuredOutput == nil {
		return errors.New("structuredOutput writer cannot be nil")
	}
	if humanReadableOutput == nil {
		return errors.New("humanReadableOutput writer cannot be nil")
	}

	var closeErrors []error
	if currentStructuredOutputCloser != nil {
		if err := currentStructuredOutputCloser.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("close previous structured output: %w", err))
		}
		currentStructuredOutputCloser = nil
	}
	if currentHumanReadableOutputCloser != nil {
		if err := currentHumanReadableOutputCloser.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("close previous human-readable output: %w", err))
		}
		currentHumanReadableOutputCloser = nil
	}

	structuredHandler := slog.NewJSONHandler(structuredOutput, &slog.HandlerOptions{
		Level:       currentLogLevel,
		ReplaceAttr: defaultReplaceAttr,
	})
	humanReadableHandler := slog.NewTextHandler(humanReadableOutput, &slog.HandlerOptions{
		Level:       currentLogLevel,
		ReplaceAttr: defaultReplaceAttr,
	})

	loggerMu.Lock()
	structuredLogger = slog.New(structuredHandler)
	humanReadableLogger = slog.New(humanReadableHandler)
	loggerMu.Unlock()

	if c, ok := structuredOutput.(io.Closer); ok {
		currentStructuredOutputCloser = c
	}
	if c, ok := humanReadableOutput.(io.Closer); ok {
		currentHumanReadableOutputCloser = c
	}

	slog.SetDefault(structuredLogger)

	if len(closeErrors) > 0 {
		return errors.Join(closeErrors...)
	}
	return nil
}

// Structured returns the global JSON logger, or nil before Init.
func Structured() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the global text logger, or nil before Init.
func HumanReadable() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return humanReadableLogger
}

// ForService returns a child of the structured logger tagged with
// "service"=serviceName, e.g. logging.ForService("vcengine").
func ForService(serviceName string) *slog.Logger {
	loggerMu.RLock()
	logger := structuredLogger
	loggerMu.RUnlock()
	if logger == nil {
		return nil
	}
	return logger.With("service", serviceName)
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// Fatal logs at the custom Fatal level and exits the process.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs at the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// RotationPolicy configures lumberjack-based file rotation for NewFileLogger.
type RotationPolicy struct {
	MaxSizeMB  int // size-based rotation threshold
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotationPolicy mirrors a conservative size-based rotation scheme.
func DefaultRotationPolicy() RotationPolicy {
	return RotationPolicy{MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
}

// NewFileLogger creates a JSON slog.Logger writing to filePath through a
// lumberjack.Logger, tagged with a "service" attribute. It returns the
// logger, a close function, and an error if the log directory could not be
// created.
func NewFileLogger(filePath, serviceName string, policy RotationPolicy, levelVar *slog.LevelVar) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil { //nolint:gosec
			return nil, nil, fmt.Errorf("create log directory %s: %w", logDir, err)
		}
	}

	lj := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    policy.MaxSizeMB,
		MaxBackups: policy.MaxBackups,
		MaxAge:     policy.MaxAgeDays,
		Compress:   policy.Compress,
	}

	handler := slog.NewJSONHandler(lj, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: defaultReplaceAttr,
	})

	logger := slog.New(handler).With("service", serviceName)

	closeFunc := func() error {
		return lj.Close()
	}

	return logger, closeFunc, nil
}
