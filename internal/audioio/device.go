// Package audioio bridges a vcengine.Pipeline to real audio hardware or an
// external streaming subprocess: a capture path feeds ProcessInput, a
// playback path drains GetOutput (§4.7).
package audioio

import (
	"context"
	"log/slog"

	"github.com/tphakala/rtvc/internal/vcengine"
)

// Sink is the minimal surface audioio needs from a pipeline: somewhere to
// push captured samples and somewhere to pull converted samples from. It is
// satisfied by *vcengine.Pipeline; tests provide fakes.
type Sink interface {
	ProcessInput(samples []vcengine.Sample) error
	GetOutput(n int) []vcengine.Sample
}

// DeviceConfig configures a capture/playback pair, for either MalgoDevice or
// SubprocessDevice.
type DeviceConfig struct {
	CaptureDeviceName  string // "" or "default" selects the system default
	PlaybackDeviceName string

	// WorkingSampleRate is the rate the pipeline expects; capture audio is
	// resampled up/down to this rate, playback audio is assumed already at
	// this rate (the pipeline only ever emits WorkingSampleRate audio).
	WorkingSampleRate uint32

	// BlockFrames is the device's preferred callback block size in frames.
	BlockFrames uint32

	// CaptureNativeRate is the sample rate a SubprocessDevice's capture
	// command actually emits at, when it differs from WorkingSampleRate and
	// cannot be configured on the subprocess's command line. Zero means the
	// subprocess already emits at WorkingSampleRate (the common case).
	CaptureNativeRate uint32

	// ChunkSize is the pipeline's configured chunk size, used to size the
	// playback pre-roll: ceil(ChunkSize/BlockFrames)+1 blocks of silence are
	// written before real pipeline output is expected to be ready (§4.7).
	ChunkSize int
}

func (c DeviceConfig) prerollBlocks() int {
	if c.BlockFrames == 0 {
		return 1
	}
	blocks := (c.ChunkSize + int(c.BlockFrames) - 1) / int(c.BlockFrames)
	return blocks + 1
}

// resampleLinear performs simple linear-interpolation resampling between a
// device's native capture rate and the pipeline's working rate. High-quality
// resampling is out of scope; this mirrors the batch adapter's rate
// conversion for the same reason (§4.4).
func resampleLinear(samples []float32, fromRate, toRate uint32) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// downmixToMono averages interleaved multi-channel samples down to one
// channel per frame.
func downmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// duplicateToChannels expands mono samples into interleaved multi-channel
// frames by repeating each sample across every output channel.
func duplicateToChannels(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for f, v := range mono {
		for c := 0; c < channels; c++ {
			out[f*channels+c] = v
		}
	}
	return out
}

func logOrDefault(logger *slog.Logger, service string) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default().With("service", service)
}

// noopContext is a never-canceled background context. Nothing in the module
// refers to it.
var noopContext = context.Background()
