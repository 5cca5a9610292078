// Package agent implements the meeting attendance capability: join a meeting,
// produce a live audio frame stream, and leave with guaranteed release of the
// underlying resource (an SDK helper process or a host audio device).
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rush86999/atom-meeting-worker/internal/config"
)

// Platform tags carried by the inbound task message.
const (
	PlatformSDKProcess    = "sdk_process"
	PlatformBrowserDevice = "browser_device"
)

// Credentials holds the per-task secrets and settings an agent needs to join.
type Credentials struct {
	SDKKey          string
	SDKSecret       string
	MeetingPassword string

	// DeviceSpecifier selects the capture device for device-backed agents:
	// a numeric index or a case-insensitive name substring. Empty means
	// automatic selection.
	DeviceSpecifier string
}

// Session is one meeting attendance. Exactly one external resource is owned
// per session; Leave must always release it, from any state.
type Session interface {
	// Join binds the session to a meeting. Calling Join while a session is
	// active fails with ErrAlreadyInMeeting rather than silently replacing
	// the resource.
	Join(ctx context.Context, meetingID string, creds Credentials) error

	// StartAudioCapture returns a non-restartable stream of audio frames.
	// The channel is closed on clean end-of-stream; after close, CaptureErr
	// reports an abnormal termination if one occurred. meetingID must match
	// the joined meeting or the call fails with a MeetingIDMismatchError
	// without touching any external resource.
	StartAudioCapture(ctx context.Context, meetingID string) (<-chan []byte, error)

	// CaptureErr reports the error that ended the capture stream, if any.
	// Valid after the frame channel has closed.
	CaptureErr() error

	// StopAudioCapture requests capture shutdown. Safe to call even if
	// capture was never started.
	StopAudioCapture()

	// Leave releases the underlying resource. Safe to call multiple times
	// and from any state; "already gone" conditions are logged, not errors.
	Leave(ctx context.Context) error

	// CurrentMeetingID returns the joined meeting id, or "" if not joined.
	CurrentMeetingID() string

	// IsActive reports true liveness of the underlying resource, not
	// cached state.
	IsActive() bool
}

// New selects the concrete session implementation for a platform tag.
func New(platform string, cfg *config.Config) (Session, error) {
	switch platform {
	case PlatformSDKProcess:
		if cfg.HelperPath == "" {
			return nil, &InstantiationError{Platform: platform, Reason: "helper binary path is not configured"}
		}
		return NewProcessAgent(cfg), nil
	case PlatformBrowserDevice:
		return NewDeviceAgent(cfg), nil
	default:
		return nil, &InstantiationError{Platform: platform}
	}
}

// Sentinel errors shared by all session implementations.
var (
	ErrAlreadyInMeeting = errors.New("agent is already in a meeting")
	ErrNotInMeeting     = errors.New("agent is not in a meeting")
	ErrCaptureActive    = errors.New("audio capture is already running")
	ErrNoAudioDevice    = errors.New("no usable audio input device found")
)

// InstantiationError means no agent implementation exists for a platform tag.
type InstantiationError struct {
	Platform string
	Reason   string
}

func (e *InstantiationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot create agent for platform %q: %s", e.Platform, e.Reason)
	}
	return fmt.Sprintf("no agent available for platform %q", e.Platform)
}

// MeetingIDMismatchError is a defensive guard against stale callers asking a
// session to capture a meeting it never joined.
type MeetingIDMismatchError struct {
	Joined    string
	Requested string
}

func (e *MeetingIDMismatchError) Error() string {
	return fmt.Sprintf("meeting id mismatch: joined %q, capture requested for %q", e.Joined, e.Requested)
}

// AuthError means credential generation or signing failed before launch.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "credential generation failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// JoinError means the helper or URL handler could not be launched, or the
// helper exited before the join grace period elapsed.
type JoinError struct {
	Reason string
	Err    error
}

func (e *JoinError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("join failed: %s: %v", e.Reason, e.Err)
	}
	return "join failed: " + e.Reason
}

func (e *JoinError) Unwrap() error { return e.Err }

// DeviceSelectionError means an explicitly requested capture device could not
// be resolved or has no input channels.
type DeviceSelectionError struct {
	Specifier string
	Reason    string
}

func (e *DeviceSelectionError) Error() string {
	return fmt.Sprintf("audio device %q: %s", e.Specifier, e.Reason)
}
