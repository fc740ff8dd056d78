// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings holds the ambient, deployment-level configuration for rtvc:
// which device backend and devices to use, where to log, and the default
// conversion parameters used to seed a vcengine.ConversionConfig at
// startup. It deliberately does not hold per-call conversion parameters
// that a client could change mid-stream.
type Settings struct {
	Debug bool

	Main struct {
		Name string
		Log  LogConfig
	}

	Device struct {
		Backend      string // "native" or "subprocess"
		CaptureName  string `mapstructure:"capture_name"`
		PlaybackName string `mapstructure:"playback_name"`
		BlockFrames  uint32 `mapstructure:"block_frames"`
	}

	Conversion struct {
		Backend     string  // "streaming_backend" or "batch_adapter"
		ChunkSize   int     `mapstructure:"chunk_size"`
		PitchShift  int     `mapstructure:"pitch_shift"`
		IndexRate   float64 `mapstructure:"index_rate"`
		PitchMethod string  `mapstructure:"pitch_method"`
		ModelID     string  `mapstructure:"model_id"`

		ConverterPath string `mapstructure:"converter_path"`
		ScratchDir    string `mapstructure:"scratch_dir"`

		ContentModelPath   string `mapstructure:"content_model_path"`
		PitchModelPath     string `mapstructure:"pitch_model_path"`
		SynthesisModelPath string `mapstructure:"synthesis_model_path"`
	}

	Metrics struct {
		Enabled bool
		Listen  string
	}
}

// LogConfig defines file-logging options, mirroring logging.RotationPolicy.
type LogConfig struct {
	Path       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
	Compress   bool
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads configuration file, environment variable, and default values
// into a fresh Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return fmt.Errorf("error configuring environment variables: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config.yaml to the
// user's config directory and reads it back via viper.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("error reading embedded default config: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance, or nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use.
// Callers that need to handle a load error explicitly should call Load
// directly instead.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
