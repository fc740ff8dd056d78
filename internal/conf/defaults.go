// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers viper defaults, used whenever a key is absent
// from both the config file and the environment.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "rtvc")
	viper.SetDefault("main.log.path", "logs/rtvc.log")
	viper.SetDefault("main.log.max_size_mb", 100)
	viper.SetDefault("main.log.max_backups", 3)
	viper.SetDefault("main.log.max_age_days", 28)
	viper.SetDefault("main.log.compress", true)

	viper.SetDefault("device.backend", "native")
	viper.SetDefault("device.capture_name", "default")
	viper.SetDefault("device.playback_name", "default")
	viper.SetDefault("device.block_frames", 960)

	viper.SetDefault("conversion.backend", "streaming_backend")
	viper.SetDefault("conversion.chunk_size", DefaultChunkSize)
	viper.SetDefault("conversion.pitch_shift", 0)
	viper.SetDefault("conversion.index_rate", 0.5)
	viper.SetDefault("conversion.pitch_method", "rmvpe")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.listen", DefaultMetricsListenAddr)
}
