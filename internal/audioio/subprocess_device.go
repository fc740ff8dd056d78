package audioio

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/rtvc/internal/errors"
	"github.com/tphakala/rtvc/internal/logging"
)

// subprocessStopTimeout bounds how long Stop waits for the pump goroutines
// to return after canceling the run context (which also terminates both
// child processes) before force-killing the children.
const subprocessStopTimeout = 5 * time.Second

// SubprocessCommand describes one external streaming command: a capture
// source (emitting raw interleaved f32le PCM on stdout) or a playback sink
// (consuming it on stdin).
type SubprocessCommand struct {
	Path     string
	Args     []string
	Channels int // interleaved channel count of the raw PCM stream
}

// SubprocessDevice drives capture and playback through two independent
// external processes speaking raw f32le PCM over pipes, the alternative to
// MalgoDevice for platforms or deployments where a native binding is
// undesirable (§4.7). It is grounded on the pack's piped-subprocess pattern
// used for its ffmpeg integration, adapted from a read-only audio decoder
// to a bidirectional capture+playback pair.
type SubprocessDevice struct {
	id      string
	cfg     DeviceConfig
	capture SubprocessCommand
	playback SubprocessCommand
	sink    Sink
	logger  *slog.Logger

	mu           sync.Mutex
	captureCmd   *exec.Cmd
	playbackCmd  *exec.Cmd
	cancel       context.CancelFunc
	running      atomic.Bool
	wg           sync.WaitGroup
}

// NewSubprocessDevice constructs an unstarted subprocess-backed device.
func NewSubprocessDevice(id string, cfg DeviceConfig, capture, playback SubprocessCommand, sink Sink) *SubprocessDevice {
	return &SubprocessDevice{
		id:       id,
		cfg:      cfg,
		capture:  capture,
		playback: playback,
		sink:     sink,
		logger:   logOrDefault(logging.ForService("audioio-subprocess"), "audioio-subprocess"),
	}
}

// Start launches the capture and playback subprocesses and their pump
// goroutines.
func (d *SubprocessDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return deviceErr(errors.NewStd("device already running"), d.id, "start")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	captureCmd := exec.CommandContext(runCtx, d.capture.Path, d.capture.Args...)
	captureOut, err := captureCmd.StdoutPipe()
	if err != nil {
		cancel()
		return deviceErr(err, d.id, "capture_stdout_pipe")
	}
	if err := captureCmd.Start(); err != nil {
		cancel()
		return deviceErr(err, d.id, "start_capture_process")
	}
	d.captureCmd = captureCmd

	playbackCmd := exec.CommandContext(runCtx, d.playback.Path, d.playback.Args...)
	playbackIn, err := playbackCmd.StdinPipe()
	if err != nil {
		cancel()
		_ = captureCmd.Process.Kill()
		return deviceErr(err, d.id, "playback_stdin_pipe")
	}
	if err := playbackCmd.Start(); err != nil {
		cancel()
		_ = captureCmd.Process.Kill()
		return deviceErr(err, d.id, "start_playback_process")
	}
	d.playbackCmd = playbackCmd

	d.running.Store(true)
	d.wg.Add(2)
	go d.pumpCapture(runCtx, captureOut)
	go d.pumpPlayback(runCtx, playbackIn)

	d.logger.Info("subprocess audio device started", "capture", d.capture.Path, "playback", d.playback.Path)
	return nil
}

// Stop signals both subprocesses to exit and waits for their pump
// goroutines, falling back to a force-kill if they do not exit promptly.
func (d *SubprocessDevice) Stop() error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	captureCmd := d.captureCmd
	playbackCmd := d.playbackCmd
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(subprocessStopTimeout):
		d.logger.Warn("subprocess audio device did not exit gracefully, killing")
		if captureCmd != nil && captureCmd.Process != nil {
			_ = captureCmd.Process.Kill()
		}
		if playbackCmd != nil && playbackCmd.Process != nil {
			_ = playbackCmd.Process.Kill()
		}
		<-done
	}

	d.running.Store(false)
	d.logger.Info("subprocess audio device stopped")
	return nil
}

// pumpCapture reads raw f32le frames from the capture subprocess's stdout,
// downmixes to mono, resamples to the working rate, and forwards to the
// sink.
func (d *SubprocessDevice) pumpCapture(ctx context.Context, r io.Reader) {
	defer d.wg.Done()
	channels := d.capture.Channels
	if channels < 1 {
		channels = 1
	}
	frameBytes := channels * 4
	blockFrames := int(d.cfg.BlockFrames)
	if blockFrames <= 0 {
		blockFrames = 960
	}
	buf := make([]byte, blockFrames*frameBytes)
	reader := bufio.NewReaderSize(r, len(buf)*4)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := io.ReadFull(reader, buf)
		if n > 0 {
			frames := n / frameBytes
			interleaved := make([]float32, frames*channels)
			for i := range interleaved {
				bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
				interleaved[i] = math.Float32frombits(bits)
			}
			mono := downmixToMono(interleaved, channels)
			if nativeRate := d.cfg.CaptureNativeRate; nativeRate != 0 && nativeRate != d.cfg.WorkingSampleRate {
				mono = resampleLinear(mono, nativeRate, d.cfg.WorkingSampleRate)
			}
			if sendErr := d.sink.ProcessInput(mono); sendErr != nil {
				d.logger.Warn("dropping captured audio, sink rejected input", "error", sendErr)
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				d.logger.Error("capture subprocess read failed", "error", err)
			}
			return
		}
	}
}

// pumpPlayback pulls converted output from the sink at a steady block rate,
// duplicates it to the playback subprocess's channel count, and writes raw
// f32le frames to its stdin.
func (d *SubprocessDevice) pumpPlayback(ctx context.Context, w io.WriteCloser) {
	defer d.wg.Done()
	defer func() { _ = w.Close() }()

	channels := d.playback.Channels
	if channels < 1 {
		channels = 1
	}
	blockFrames := int(d.cfg.BlockFrames)
	if blockFrames <= 0 {
		blockFrames = 960
	}
	rate := d.cfg.WorkingSampleRate
	if rate == 0 {
		rate = 48000
	}
	blockInterval := time.Duration(float64(blockFrames) / float64(rate) * float64(time.Second))
	if blockInterval <= 0 {
		blockInterval = 20 * time.Millisecond
	}

	prerollLeft := d.cfg.prerollBlocks()
	ticker := time.NewTicker(blockInterval)
	defer ticker.Stop()

	bw := bufio.NewWriterSize(w, blockFrames*channels*4*4)
	defer func() { _ = bw.Flush() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var mono []float32
		if prerollLeft > 0 {
			prerollLeft--
			mono = make([]float32, blockFrames)
		} else {
			mono = d.sink.GetOutput(blockFrames)
			if len(mono) < blockFrames {
				padded := make([]float32, blockFrames)
				copy(padded, mono)
				mono = padded
			}
		}

		out := duplicateToChannels(mono, channels)
		frameBuf := make([]byte, len(out)*4)
		for i, v := range out {
			binary.LittleEndian.PutUint32(frameBuf[i*4:i*4+4], math.Float32bits(v))
		}
		if _, err := bw.Write(frameBuf); err != nil {
			d.logger.Error("playback subprocess write failed", "error", err)
			return
		}
		if err := bw.Flush(); err != nil {
			d.logger.Error("playback subprocess flush failed", "error", err)
			return
		}
	}
}
