package task

import (
	"errors"
	"strings"

	"github.com/rush86999/atom-meeting-worker/internal/agent"
	"github.com/rush86999/atom-meeting-worker/internal/status"
	"github.com/rush86999/atom-meeting-worker/internal/transcribe"
)

// ErrEmptyTranscript means the session completed but captured no speech.
var ErrEmptyTranscript = errors.New("no speech recognized; check audio routing or mute state")

// MissingParametersError is the pre-flight validation failure. It is raised
// before any resource is acquired.
type MissingParametersError struct {
	Fields []string
}

func (e *MissingParametersError) Error() string {
	return "missing required parameters: " + strings.Join(e.Fields, ", ")
}

// PersistenceError means a note or status write failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// failureStatus maps an error to its terminal status and free-text detail.
func failureStatus(err error) (status.Status, string) {
	var (
		missing     *MissingParametersError
		instErr     *agent.InstantiationError
		authErr     *agent.AuthError
		joinErr     *agent.JoinError
		devErr      *agent.DeviceSelectionError
		connErr     *transcribe.ConnectionError
		backendErr  *transcribe.BackendError
		persistence *PersistenceError
	)

	switch {
	case errors.As(err, &missing):
		return status.Failed(status.ReasonMissingParameters), err.Error()
	case errors.As(err, &instErr):
		return status.Failed(status.ReasonAgentInit), err.Error()
	case errors.As(err, &authErr):
		return status.Failed(status.ReasonJoin), err.Error()
	case errors.As(err, &joinErr):
		return status.Failed(status.ReasonJoin), err.Error()
	case errors.As(err, &devErr), errors.Is(err, agent.ErrNoAudioDevice):
		return status.Failed(status.ReasonAudioDevice), err.Error()
	case errors.Is(err, ErrEmptyTranscript):
		return status.Failed(status.ReasonEmptyTranscript), err.Error()
	case errors.Is(err, transcribe.ErrSessionTimeout), errors.Is(err, transcribe.ErrSilenceTimeout):
		return status.Failed(status.ReasonTimeout), err.Error()
	case errors.As(err, &connErr), errors.As(err, &backendErr):
		return status.Failed(status.ReasonTranscription), err.Error()
	case errors.As(err, &persistence):
		return status.Failed(status.ReasonPersistence), err.Error()
	default:
		return status.Failed(status.ReasonInternal), err.Error()
	}
}
