package vcengine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtvc/internal/errors"
)

// writePassthroughConverter writes a shell script that copies the file
// named after --input to the one named after --output, standing in for a
// real external file-batch voice converter.
func writePassthroughConverter(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("passthrough converter script requires a POSIX shell")
	}
	script := `#!/bin/sh
in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --input) in="$2"; shift 2 ;;
    --output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cp "$in" "$out"
`
	path := filepath.Join(t.TempDir(), "fake-converter.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func testConfig(converterPath string) ConversionConfig {
	return ConversionConfig{
		ModelID:     "test-model",
		ChunkSize:   1024,
		SampleRate:  WorkingSampleRate,
		PitchShift:  0,
		IndexRate:   0.5,
		PitchMethod: PitchMethodFallback,
		Backend:     BackendBatchAdapter,
		ConverterPath: converterPath,
	}
}

func TestBatchAdapterPassthrough(t *testing.T) {
	converter := writePassthroughConverter(t)
	cfg := testConfig(converter)
	adapter := NewBatchAdapter(cfg)
	require.NoError(t, adapter.Initialize(context.Background()))
	defer func() { _ = adapter.Cleanup() }()

	chunk := make([]Sample, cfg.ChunkSize)
	for i := range chunk {
		chunk[i] = float32(i%100) / 100.0
	}

	out, err := adapter.ConvertChunk(context.Background(), chunk, nil)
	require.NoError(t, err)
	require.Len(t, out, cfg.ChunkSize)
	for i := range chunk {
		assert.InDelta(t, chunk[i], out[i], 1e-5)
	}
}

func TestBatchAdapterMissingConverterYieldsRetryableFalseError(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	adapter := NewBatchAdapter(cfg)
	require.NoError(t, adapter.Initialize(context.Background()))
	defer func() { _ = adapter.Cleanup() }()

	chunk := make([]Sample, cfg.ChunkSize)
	_, err := adapter.ConvertChunk(context.Background(), chunk, nil)
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestFitToChunkSize(t *testing.T) {
	assert.Equal(t, []Sample{1, 2, 0, 0}, fitToChunkSize([]Sample{1, 2}, 4))
	assert.Equal(t, []Sample{1, 2}, fitToChunkSize([]Sample{1, 2, 3}, 2))
	assert.Equal(t, []Sample{1, 2}, fitToChunkSize([]Sample{1, 2}, 2))
}

func TestResampleLinearIdentity(t *testing.T) {
	in := []Sample{1, 2, 3, 4}
	out := resampleLinear(in, 48000, 48000)
	assert.Equal(t, in, out)
}

func TestResampleLinearUpsamplesLength(t *testing.T) {
	in := make([]Sample, 100)
	out := resampleLinear(in, 24000, 48000)
	assert.InDelta(t, 200, len(out), 2)
}
