package audioio

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/rtvc/internal/errors"
	"github.com/tphakala/rtvc/internal/logging"
	"github.com/tphakala/rtvc/internal/vcengine"
)

// MalgoDevice drives a native capture device and a native playback device
// through a shared malgo context, feeding and draining a Sink (typically a
// *vcengine.Pipeline). It is the cross-platform native counterpart to
// SubprocessDevice, adapted from the pack's miniaudio-backed capture source
// to add a matching playback path.
type MalgoDevice struct {
	id     string
	cfg    DeviceConfig
	sink   Sink
	logger *slog.Logger

	mu             sync.Mutex
	malgoCtx       *malgo.AllocatedContext
	captureDevice  *malgo.Device
	playbackDevice *malgo.Device
	cancel         context.CancelFunc

	running       atomic.Bool
	captureFormat malgo.FormatType
	captureRate   uint32
	prerollLeft   atomic.Int32
}

// NewMalgoDevice constructs an unstarted native device pair.
func NewMalgoDevice(id string, cfg DeviceConfig, sink Sink) *MalgoDevice {
	if cfg.WorkingSampleRate == 0 {
		cfg.WorkingSampleRate = vcengine.WorkingSampleRate
	}
	if cfg.BlockFrames == 0 {
		cfg.BlockFrames = 960 // 20ms at 48kHz
	}
	return &MalgoDevice{
		id:     id,
		cfg:    cfg,
		sink:   sink,
		logger: logOrDefault(logging.ForService("audioio-malgo"), "audioio-malgo"),
	}
}

// Start initializes and starts both the capture and playback devices.
func (d *MalgoDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return deviceErr(errors.NewStd("device already running"), d.id, "start")
	}

	backend := nativeBackend()
	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return deviceErr(err, d.id, "init_context")
	}
	d.malgoCtx = malgoCtx

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	captureDevice, err := d.startCapture(malgoCtx)
	if err != nil {
		cancel()
		_ = malgoCtx.Uninit()
		return err
	}
	d.captureDevice = captureDevice

	playbackDevice, err := d.startPlayback(malgoCtx)
	if err != nil {
		_ = captureDevice.Stop()
		captureDevice.Uninit()
		cancel()
		_ = malgoCtx.Uninit()
		return err
	}
	d.playbackDevice = playbackDevice

	d.prerollLeft.Store(int32(d.cfg.prerollBlocks()))
	d.running.Store(true)
	go d.monitor(runCtx)
	d.logger.Info("audio device started", "capture", d.cfg.CaptureDeviceName, "playback", d.cfg.PlaybackDeviceName)
	return nil
}

// Stop halts and releases both devices. Idempotent.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.captureDevice != nil {
		_ = d.captureDevice.Stop()
		d.captureDevice.Uninit()
		d.captureDevice = nil
	}
	if d.playbackDevice != nil {
		_ = d.playbackDevice.Stop()
		d.playbackDevice.Uninit()
		d.playbackDevice = nil
	}
	if d.malgoCtx != nil {
		_ = d.malgoCtx.Uninit()
		d.malgoCtx = nil
	}
	d.running.Store(false)
	d.logger.Info("audio device stopped")
	return nil
}

func (d *MalgoDevice) monitor(ctx context.Context) {
	<-ctx.Done()
	_ = d.Stop()
}

func (d *MalgoDevice) startCapture(ctx *malgo.AllocatedContext) (*malgo.Device, error) {
	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, deviceErr(err, d.id, "enumerate_capture_devices")
	}
	info, err := selectDevice(devices, d.cfg.CaptureDeviceName)
	if err != nil {
		return nil, deviceErr(err, d.id, "select_capture_device")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Channels = 1
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.DeviceID = info.ID.Pointer()
	cfg.SampleRate = d.cfg.WorkingSampleRate
	cfg.PeriodSizeInFrames = d.cfg.BlockFrames

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onCapture,
		Stop: func() { d.logger.Warn("capture device stopped unexpectedly") },
	})
	if err != nil {
		return nil, deviceErr(err, d.id, "init_capture_device")
	}
	d.captureFormat = device.CaptureFormat()
	d.captureRate = device.SampleRate()
	if d.captureFormat != malgo.FormatS16 {
		d.logger.Warn("capture device granted an unexpected sample format, audio will be distorted", "format", d.captureFormat)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, deviceErr(err, d.id, "start_capture_device")
	}
	return device, nil
}

func (d *MalgoDevice) startPlayback(ctx *malgo.AllocatedContext) (*malgo.Device, error) {
	devices, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, deviceErr(err, d.id, "enumerate_playback_devices")
	}
	info, err := selectDevice(devices, d.cfg.PlaybackDeviceName)
	if err != nil {
		return nil, deviceErr(err, d.id, "select_playback_device")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Channels = 1
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.DeviceID = info.ID.Pointer()
	cfg.SampleRate = d.cfg.WorkingSampleRate
	cfg.PeriodSizeInFrames = d.cfg.BlockFrames

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onPlayback,
		Stop: func() { d.logger.Warn("playback device stopped unexpectedly") },
	})
	if err != nil {
		return nil, deviceErr(err, d.id, "init_playback_device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, deviceErr(err, d.id, "start_playback_device")
	}
	return device, nil
}

// onCapture converts a 16-bit mono block to float32, resamples to the
// working rate if the device granted a different rate, and forwards it to
// the sink.
func (d *MalgoDevice) onCapture(_, pSamples []byte, framecount uint32) {
	floats := make([]float32, framecount)
	for i := range floats {
		lo := pSamples[2*i]
		hi := pSamples[2*i+1]
		sample := int16(lo) | int16(hi)<<8
		floats[i] = float32(sample) / 32768.0
	}
	if d.captureRate != d.cfg.WorkingSampleRate {
		floats = resampleLinear(floats, d.captureRate, d.cfg.WorkingSampleRate)
	}
	if err := d.sink.ProcessInput(floats); err != nil {
		d.logger.Warn("dropping captured audio, sink rejected input", "error", err)
	}
}

// onPlayback fills the device's output buffer from the sink's converted
// output, substituting silence during the pre-roll window and whenever the
// sink underruns (§4.7).
func (d *MalgoDevice) onPlayback(pOutputSamples, _ []byte, framecount uint32) {
	n := int(framecount)
	var mono []float32
	if left := d.prerollLeft.Load(); left > 0 {
		d.prerollLeft.Add(-1)
		mono = make([]float32, n)
	} else {
		mono = d.sink.GetOutput(n)
		if len(mono) < n {
			padded := make([]float32, n)
			copy(padded, mono)
			mono = padded
		}
	}

	for i := 0; i < n && 2*i+1 < len(pOutputSamples); i++ {
		clamped := mono[i]
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}
		sample := int16(clamped * 32767.0)
		pOutputSamples[2*i] = byte(sample)
		pOutputSamples[2*i+1] = byte(sample >> 8)
	}
}

// selectDevice finds a device by name, falling back to the system default
// (or the first enumerated device) when name is empty or "default".
func selectDevice(devices []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	if name == "" || name == "default" {
		for i := range devices {
			if devices[i].IsDefault == 1 {
				return &devices[i], nil
			}
		}
		if len(devices) > 0 {
			return &devices[0], nil
		}
		return nil, errors.NewStd("no audio devices found")
	}
	for i := range devices {
		if devices[i].Name() == name {
			return &devices[i], nil
		}
	}
	return nil, errors.Newf("audio device %q not found", name)
}

func nativeBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

func deviceErr(cause error, deviceID, operation string) error {
	return errors.New(cause).
		Component("audioio").
		Category(errors.CategoryDevice).
		Context("device_id", deviceID).
		Context("operation", operation).
		Build()
}
