// Package task parses inbound attendance jobs and drives one job through its
// full lifecycle: join, capture, transcribe, persist, and guaranteed cleanup.
package task

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// APIKeys carries the per-task credentials for every external collaborator.
// Keys live in the message, never in process-wide configuration, so repeated
// tasks cannot interfere with each other.
type APIKeys struct {
	Notion    string `json:"notion"`
	Deepgram  string `json:"deepgram"`
	OpenAI    string `json:"openai"`
	SDKKey    string `json:"sdkKey,omitempty"`
	SDKSecret string `json:"sdkSecret,omitempty"`
}

// AudioSettings carries capture tuning for device-backed sessions.
type AudioSettings struct {
	AudioDeviceSpecifier string `json:"audioDeviceSpecifier,omitempty"`
}

// Message is one inbound "attend and transcribe this meeting" job.
type Message struct {
	TaskID            string        `json:"taskId"`
	UserID            string        `json:"userId"`
	Platform          string        `json:"platform"`
	MeetingIdentifier string        `json:"meetingIdentifier"`
	MeetingPassword   string        `json:"meetingPassword,omitempty"`
	NotionNoteTitle   string        `json:"notionNoteTitle"`
	NotionSource      string        `json:"notionSource"`
	LinkedEventID     string        `json:"linkedEventId,omitempty"`
	NotionDBID        string        `json:"notionDbId,omitempty"`
	APIKeys           APIKeys       `json:"apiKeys"`
	AudioSettings     AudioSettings `json:"audioSettings"`
}

// Parse decodes a queue message body. A missing task id gets a generated one
// so the failure is still observable in the status table.
func Parse(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode task message: %w", err)
	}
	if m.TaskID == "" {
		m.TaskID = uuid.NewString()
	}
	return &m, nil
}

// Validate checks the required fields before any resource is acquired. The
// returned MissingParametersError lists every missing field by name.
func (m *Message) Validate() error {
	var missing []string
	if m.UserID == "" {
		missing = append(missing, "userId")
	}
	if m.Platform == "" {
		missing = append(missing, "platform")
	}
	if m.MeetingIdentifier == "" {
		missing = append(missing, "meetingIdentifier")
	}
	if m.NotionNoteTitle == "" {
		missing = append(missing, "notionNoteTitle")
	}
	if m.APIKeys.Notion == "" {
		missing = append(missing, "apiKeys.notion")
	}
	if m.APIKeys.Deepgram == "" {
		missing = append(missing, "apiKeys.deepgram")
	}
	if m.APIKeys.OpenAI == "" {
		missing = append(missing, "apiKeys.openai")
	}
	if m.Platform == "sdk_process" {
		if m.APIKeys.SDKKey == "" {
			missing = append(missing, "apiKeys.sdkKey")
		}
		if m.APIKeys.SDKSecret == "" {
			missing = append(missing, "apiKeys.sdkSecret")
		}
	}
	if len(missing) > 0 {
		return &MissingParametersError{Fields: missing}
	}
	return nil
}
