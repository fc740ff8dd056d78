// env.go - Environment variable configuration and validation for rtvc
package conf

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for one environment variable binding.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"conversion.chunk_size", "RTVC_CHUNK_SIZE", validateEnvChunkSize},
		{"conversion.pitch_shift", "RTVC_PITCH_SHIFT", validateEnvPitchShift},
		{"conversion.index_rate", "RTVC_INDEX_RATE", validateEnvIndexRate},
		{"conversion.pitch_method", "RTVC_PITCH_METHOD", validateEnvPitchMethod},
		{"conversion.backend", "RTVC_BACKEND", validateEnvBackend},
		{"conversion.model_id", "RTVC_MODEL_ID", nil},
		{"conversion.converter_path", "RTVC_CONVERTER_PATH", validateEnvPath},
		{"conversion.content_model_path", "RTVC_CONTENT_MODEL_PATH", validateEnvPath},
		{"conversion.pitch_model_path", "RTVC_PITCH_MODEL_PATH", validateEnvPath},
		{"conversion.synthesis_model_path", "RTVC_SYNTHESIS_MODEL_PATH", validateEnvPath},
		{"device.backend", "RTVC_DEVICE_BACKEND", validateEnvDeviceBackend},
		{"device.capture_name", "RTVC_CAPTURE_DEVICE", nil},
		{"device.playback_name", "RTVC_PLAYBACK_DEVICE", nil},
		{"metrics.listen", "RTVC_METRICS_LISTEN", nil},
		{"debug", "RTVC_DEBUG", nil},
	}
}

func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvChunkSize(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid chunk_size: %w", err)
	}
	if n < 1024 || n > 16384 {
		return fmt.Errorf("chunk_size must be between 1024 and 16384, got %d", n)
	}
	return nil
}

func validateEnvPitchShift(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid pitch_shift: %w", err)
	}
	if n < -24 || n > 24 {
		return fmt.Errorf("pitch_shift must be between -24 and 24, got %d", n)
	}
	return nil
}

func validateEnvIndexRate(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid index_rate: %w", err)
	}
	if f < 0.0 || f > 1.0 {
		return fmt.Errorf("index_rate must be between 0.0 and 1.0, got %g", f)
	}
	return nil
}

func validateEnvPitchMethod(value string) error {
	switch value {
	case "rmvpe", "fallback":
		return nil
	default:
		return fmt.Errorf("must be one of: rmvpe, fallback")
	}
}

func validateEnvBackend(value string) error {
	switch value {
	case "streaming_backend", "batch_adapter":
		return nil
	default:
		return fmt.Errorf("must be one of: streaming_backend, batch_adapter")
	}
}

func validateEnvDeviceBackend(value string) error {
	switch value {
	case "native", "subprocess":
		return nil
	default:
		return fmt.Errorf("must be one of: native, subprocess")
	}
}

func validateEnvPath(value string) error {
	if strings.Contains(value, "..") {
		return fmt.Errorf("path traversal not allowed")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper.
func configureEnvironmentVariables() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RTVC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := bindEnvVars(); err != nil {
		log.Printf("environment variable validation warnings: %v", err)
	}
	return nil
}
