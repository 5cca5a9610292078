package agent

import (
	"context"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/rush86999/atom-meeting-worker/internal/config"
	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

// deviceBlockMillis is the capture callback block size. Small blocks keep the
// stop request latency low.
const deviceBlockMillis = 40

// deviceQueueDepth bounds the callback-to-consumer queue; at 40ms blocks this
// is about 2.5s of audio before frames are dropped.
const deviceQueueDepth = 64

// devicePollInterval is how often the consumer re-checks for a stop request
// while the queue is empty.
const devicePollInterval = 250 * time.Millisecond

// DeviceAgent attends a browser-based meeting by launching the OS URL handler
// and capturing a host audio input device. Most input devices carry only the
// microphone, not meeting output; the resolved device is logged loudly so
// operators can route audio correctly.
type DeviceAgent struct {
	cfg *config.Config

	mu        sync.Mutex
	meetingID string
	specifier string

	capturing  bool
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	queue      chan []byte
	stopOnce   sync.Once
	stopCh     chan struct{}
	captureMu  sync.Mutex
	captureErr error
	dropped    int
}

var _ Session = (*DeviceAgent)(nil)

// NewDeviceAgent creates a device-backed agent. The capture device is
// resolved lazily at capture start, not here.
func NewDeviceAgent(cfg *config.Config) *DeviceAgent {
	return &DeviceAgent{cfg: cfg}
}

// Join validates the meeting URL and launches the OS URL handler. Success
// means the handler launched; whether the user lands in the meeting is not
// observable from here.
func (d *DeviceAgent) Join(_ context.Context, meetingID string, creds Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.meetingID != "" {
		return ErrAlreadyInMeeting
	}
	if err := validateMeetingURL(meetingID); err != nil {
		return &JoinError{Reason: "invalid meeting url", Err: err}
	}
	if err := launchURLHandler(meetingID); err != nil {
		return &JoinError{Reason: "launch browser", Err: err}
	}

	d.meetingID = meetingID
	d.specifier = creds.DeviceSpecifier
	logging.Info(logging.CategoryDevice, "launched url handler meetingID=%s", meetingID)
	return nil
}

// StartAudioCapture resolves the capture device and opens a callback-driven
// 16-bit mono stream. Frames arrive in deviceBlockMillis blocks.
func (d *DeviceAgent) StartAudioCapture(ctx context.Context, meetingID string) (<-chan []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.meetingID == "" {
		return nil, ErrNotInMeeting
	}
	if meetingID != d.meetingID {
		return nil, &MeetingIDMismatchError{Joined: d.meetingID, Requested: meetingID}
	}
	if d.capturing {
		return nil, ErrCaptureActive
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logging.Debug(logging.CategoryDevice, "miniaudio: %s", message)
	})
	if err != nil {
		return nil, ErrNoAudioDevice
	}

	devices, err := d.enumerateInputs(malgoCtx)
	if err != nil {
		freeContext(malgoCtx)
		return nil, err
	}
	selected, err := chooseInputDevice(devices, d.specifier)
	if err != nil {
		freeContext(malgoCtx)
		return nil, err
	}

	logging.Warning(logging.CategoryDevice,
		"capturing from device %q only; if this is a microphone, meeting audio must be routed into it", selected.Name)

	queue := make(chan []byte, deviceQueueDepth)
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.cfg.Channels)
	deviceConfig.Capture.DeviceID = selected.ID.Pointer()
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = deviceBlockMillis

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			// The callback owns input only for the duration of the call.
			block := make([]byte, len(input))
			copy(block, input)
			select {
			case queue <- block:
			default:
				d.noteDropped()
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(malgoCtx)
		return nil, &DeviceSelectionError{Specifier: selected.Name, Reason: "open capture stream: " + err.Error()}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(malgoCtx)
		return nil, &DeviceSelectionError{Specifier: selected.Name, Reason: "start capture stream: " + err.Error()}
	}

	d.capturing = true
	d.malgoCtx = malgoCtx
	d.device = device
	d.queue = queue
	d.stopOnce = sync.Once{}
	d.stopCh = make(chan struct{})
	d.captureMu.Lock()
	d.captureErr = nil
	d.captureMu.Unlock()

	frames := make(chan []byte, 8)
	stop := d.stopCh

	// Consumer: dequeue with a short poll so a stop request is observed
	// promptly; closing frames is the end-of-stream sentinel.
	go func() {
		defer close(frames)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case block := <-queue:
				select {
				case frames <- block:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			case <-time.After(devicePollInterval):
			}
		}
	}()

	logging.Info(logging.CategoryDevice, "audio capture started device=%q rate=%d block=%dms",
		selected.Name, d.cfg.SampleRate, deviceBlockMillis)
	return frames, nil
}

// CaptureErr reports the error that ended the last capture stream, if any.
func (d *DeviceAgent) CaptureErr() error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	return d.captureErr
}

// StopAudioCapture stops and closes the device stream if one is active.
// Idempotent, and safe if capture never started.
func (d *DeviceAgent) StopAudioCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCaptureLocked()
}

func (d *DeviceAgent) stopCaptureLocked() {
	if d.stopCh != nil {
		stop := d.stopCh
		d.stopOnce.Do(func() { close(stop) })
	}
	if d.device != nil {
		if err := d.device.Stop(); err != nil {
			logging.Debug(logging.CategoryDevice, "device stop: %v", err)
		}
		d.device.Uninit()
		d.device = nil
	}
	if d.malgoCtx != nil {
		freeContext(d.malgoCtx)
		d.malgoCtx = nil
	}
	d.captureMu.Lock()
	if d.dropped > 0 {
		logging.Warning(logging.CategoryDevice, "capture queue overflowed, dropped %d blocks", d.dropped)
		d.dropped = 0
	}
	d.captureMu.Unlock()
	d.queue = nil
	d.capturing = false
}

// Leave stops capture and clears session state. There is no process to kill;
// the launched browser belongs to the user. Idempotent.
func (d *DeviceAgent) Leave(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.meetingID == "" && !d.capturing {
		logging.Debug(logging.CategoryDevice, "leave with no active session, nothing to do")
		return nil
	}

	d.stopCaptureLocked()
	logging.Info(logging.CategoryDevice, "left meeting meetingID=%s", d.meetingID)
	d.meetingID = ""
	d.specifier = ""
	d.stopCh = nil
	return nil
}

// CurrentMeetingID returns the joined meeting id, or "".
func (d *DeviceAgent) CurrentMeetingID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meetingID
}

// IsActive reports whether a session is bound to a meeting. The browser is
// detached, so the capture device is the only resource whose liveness we can
// observe directly.
func (d *DeviceAgent) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meetingID != ""
}

func (d *DeviceAgent) enumerateInputs(malgoCtx *malgo.AllocatedContext) ([]inputDevice, error) {
	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, ErrNoAudioDevice
	}

	devices := make([]inputDevice, 0, len(infos))
	for _, info := range infos {
		dev := inputDevice{
			ID:        info.ID,
			Name:      info.Name(),
			Channels:  1,
			IsDefault: info.IsDefault != 0,
		}
		// Full device info carries the supported data formats; enumeration
		// alone does not. The channel count is the widest format offered.
		if full, err := malgoCtx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared); err == nil {
			dev.Channels = maxFormatChannels(full.Formats)
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// maxFormatChannels returns the largest channel count among a device's
// supported data formats, or 0 when none are reported.
func maxFormatChannels(formats []malgo.DataFormat) int {
	channels := 0
	for _, f := range formats {
		if int(f.Channels) > channels {
			channels = int(f.Channels)
		}
	}
	return channels
}

func (d *DeviceAgent) noteDropped() {
	d.captureMu.Lock()
	d.dropped++
	d.captureMu.Unlock()
}

func freeContext(malgoCtx *malgo.AllocatedContext) {
	if err := malgoCtx.Uninit(); err != nil {
		logging.Debug(logging.CategoryDevice, "miniaudio context uninit: %v", err)
	}
	malgoCtx.Free()
}
