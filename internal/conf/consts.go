// conf/consts.go hard coded constants
package conf

const (
	// DefaultChunkSize seeds vcengine.ConversionConfig.ChunkSize when no
	// override is configured.
	DefaultChunkSize = 4096

	// DefaultSampleRate matches vcengine.WorkingSampleRate; kept as its own
	// constant so conf does not need to import vcengine just for this value.
	DefaultSampleRate = 48000

	DefaultMetricsListenAddr = "127.0.0.1:9090"
)
