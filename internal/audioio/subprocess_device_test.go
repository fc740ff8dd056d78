package audioio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtvc/internal/vcengine"
)

// fakeSink records every ProcessInput call and serves GetOutput as a
// constant 0.1 signal, standing in for a *vcengine.Pipeline in device tests.
type fakeSink struct {
	mu       sync.Mutex
	captured [][]vcengine.Sample
}

func (f *fakeSink) ProcessInput(samples []vcengine.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]vcengine.Sample, len(samples))
	copy(cp, samples)
	f.captured = append(f.captured, cp)
	return nil
}

func (f *fakeSink) GetOutput(n int) []vcengine.Sample {
	out := make([]vcengine.Sample, n)
	for i := range out {
		out[i] = 0.1
	}
	return out
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.captured)
}

// writeFixedToneGenerator writes a script that emits a fixed number of
// silent f32le frames to stdout then exits, standing in for a real capture
// command (e.g. "arecord -f FLOAT_LE").
func writeFixedToneGenerator(t *testing.T, frames, channels int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake capture script requires a POSIX shell")
	}
	bytesTotal := frames * channels * 4
	script := `#!/bin/sh
dd if=/dev/zero bs=1 count=` + itoa(bytesTotal) + ` 2>/dev/null
`
	path := filepath.Join(t.TempDir(), "fake-capture.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

// writeSinkConsumer writes a script that simply drains stdin to /dev/null, standing
// in for a real playback command (e.g. "aplay").
func writeSinkConsumer(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake playback script requires a POSIX shell")
	}
	script := `#!/bin/sh
cat > /dev/null
`
	path := filepath.Join(t.TempDir(), "fake-playback.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestSubprocessDeviceCapturesAndForwardsAudio(t *testing.T) {
	capturePath := writeFixedToneGenerator(t, 4096, 1)
	playbackPath := writeSinkConsumer(t)
	sink := &fakeSink{}

	cfg := DeviceConfig{
		WorkingSampleRate: vcengine.WorkingSampleRate,
		BlockFrames:       480,
		ChunkSize:         1024,
	}
	dev := NewSubprocessDevice(
		"test-device",
		cfg,
		SubprocessCommand{Path: capturePath, Channels: 1},
		SubprocessCommand{Path: playbackPath, Channels: 1},
		sink,
	)

	require.NoError(t, dev.Start(context.Background()))
	defer func() { _ = dev.Stop() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.callCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Greater(t, sink.callCount(), 0, "expected captured audio to reach the sink")
}

func TestSubprocessDeviceStopIsIdempotent(t *testing.T) {
	capturePath := writeFixedToneGenerator(t, 1024, 1)
	playbackPath := writeSinkConsumer(t)
	sink := &fakeSink{}

	cfg := DeviceConfig{WorkingSampleRate: vcengine.WorkingSampleRate, BlockFrames: 480, ChunkSize: 1024}
	dev := NewSubprocessDevice("idempotent", cfg,
		SubprocessCommand{Path: capturePath, Channels: 1},
		SubprocessCommand{Path: playbackPath, Channels: 1},
		sink,
	)
	require.NoError(t, dev.Start(context.Background()))
	require.NoError(t, dev.Stop())
	require.NoError(t, dev.Stop())
}
