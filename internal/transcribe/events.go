package transcribe

import (
	"errors"
	"fmt"
)

// event is one JSON message from the live transcription backend. Only the
// fields the bridge acts on are decoded.
type event struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`

	// Error events.
	ErrCode     string `json:"err_code"`
	ErrMsg      string `json:"err_msg"`
	Description string `json:"description"`
}

// Event types sent by the backend.
const (
	eventResults       = "Results"
	eventMetadata      = "Metadata"
	eventSpeechStarted = "SpeechStarted"
	eventUtteranceEnd  = "UtteranceEnd"
	eventError         = "Error"
)

// closeStreamMsg tells the backend no more audio is coming and final results
// should be flushed.
const closeStreamMsg = `{"type":"CloseStream"}`

// keepAliveMsg keeps the connection open through long silent stretches.
const keepAliveMsg = `{"type":"KeepAlive"}`

// Watchdog outcomes. Both are terminal for the bridge; the first to fire wins.
var (
	ErrSessionTimeout = errors.New("transcription session exceeded maximum duration")
	ErrSilenceTimeout = errors.New("no speech activity before silence timeout")
)

// ConnectionError means the backend was unreachable or the connection closed
// abnormally mid-session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "transcription connection: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// BackendError is an error event reported by the backend itself. It is
// captured and returned as the bridge's failure reason, never thrown past
// the caller.
type BackendError struct {
	Code        string
	Description string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transcription backend error %s: %s", e.Code, e.Description)
	}
	return "transcription backend error: " + e.Description
}
