package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViperState clears global viper and singleton state between tests
// since both config.go and viper itself rely on package-level globals.
func resetViperState() {
	viper.Reset()
	settingsInstance = nil
	once = sync.Once{}
}

func TestSetDefaultConfigPopulatesExpectedKeys(t *testing.T) {
	resetViperState()
	setDefaultConfig()

	assert.Equal(t, "rtvc", viper.GetString("main.name"))
	assert.Equal(t, DefaultChunkSize, viper.GetInt("conversion.chunk_size"))
	assert.Equal(t, "streaming_backend", viper.GetString("conversion.backend"))
	assert.Equal(t, 0.5, viper.GetFloat64("conversion.index_rate"))
	assert.Equal(t, "native", viper.GetString("device.backend"))
	assert.Equal(t, DefaultMetricsListenAddr, viper.GetString("metrics.listen"))
}

func TestLoadWritesDefaultConfigWhenMissing(t *testing.T) {
	resetViperState()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("RTVC_CHUNK_SIZE", "")

	settings, err := Load()
	require.NoError(t, err)
	require.NotNil(t, settings)

	assert.Equal(t, "rtvc", settings.Main.Name)
	assert.Equal(t, DefaultChunkSize, settings.Conversion.ChunkSize)
	assert.Equal(t, "streaming_backend", settings.Conversion.Backend)

	writtenPath := filepath.Join(tmpHome, ".config", "rtvc", "config.yaml")
	if runtime.GOOS != "windows" {
		_, statErr := os.Stat(writtenPath)
		assert.NoError(t, statErr, "expected default config.yaml to be created at %s", writtenPath)
	}
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	resetViperState()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("RTVC_CHUNK_SIZE", "8192")
	t.Setenv("RTVC_PITCH_METHOD", "fallback")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8192, settings.Conversion.ChunkSize)
	assert.Equal(t, "fallback", settings.Conversion.PitchMethod)
}

func TestGetSettingsReturnsNilBeforeLoad(t *testing.T) {
	resetViperState()
	assert.Nil(t, GetSettings())
}

func TestGetDefaultConfigPathsMatchesOS(t *testing.T) {
	paths, err := GetDefaultConfigPaths()
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		assert.Contains(t, p, "rtvc")
	}
}
