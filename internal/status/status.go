// Package status persists the externally visible lifecycle state of a task.
// The status table is the only output other services observe; every phase of
// a task writes a row update before the phase runs.
package status

import (
	"context"
	"time"
)

// Status is the human-readable lifecycle state written to the status record.
type Status string

// Lifecycle states, in order. Failed states are built with Failed().
const (
	StatusReceived            Status = "Received"
	StatusInitializingClients Status = "Initializing Clients"
	StatusInitializingAgent   Status = "Initializing Agent"
	StatusJoiningMeeting      Status = "Joining Meeting"
	StatusCapturing           Status = "Capturing and Transcribing"
	StatusProcessing          Status = "Processing and Saving"
	StatusCompleted           Status = "Completed"
)

// Failure reasons appended to "Failed: ".
const (
	ReasonMissingParameters = "Missing Parameters"
	ReasonClientInit        = "Client Initialization Error"
	ReasonAgentInit         = "Agent Initialization Error"
	ReasonJoin              = "Could not join meeting"
	ReasonAudioDevice       = "Audio device unavailable"
	ReasonTranscription     = "Transcription error"
	ReasonTimeout           = "Session timed out"
	ReasonEmptyTranscript   = "No transcript generated"
	ReasonPersistence       = "Could not save note"
	ReasonInternal          = "Internal error"
)

// Failed builds a terminal failure status from a reason.
func Failed(reason string) Status {
	return Status("Failed: " + reason)
}

// Terminal reports whether the status ends the task lifecycle.
func (s Status) Terminal() bool {
	if s == StatusCompleted {
		return true
	}
	return len(s) > 7 && s[:7] == "Failed:"
}

// Record mirrors one row of the task status table.
type Record struct {
	TaskID       string
	UserID       string
	Platform     string
	MeetingID    string
	Status       Status
	Timestamp    time.Time
	ErrorDetails string
	FinalNoteURL string
}

// Store is the append/update interface to the durable status backend.
// Writes are idempotent upserts keyed by task id, so concurrent workers
// retrying the same task converge instead of corrupting state.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
}
