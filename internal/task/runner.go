package task

import (
	"context"
	"time"

	"github.com/rush86999/atom-meeting-worker/internal/agent"
	"github.com/rush86999/atom-meeting-worker/internal/logging"
	"github.com/rush86999/atom-meeting-worker/internal/notes"
	"github.com/rush86999/atom-meeting-worker/internal/status"
	"github.com/rush86999/atom-meeting-worker/internal/vector"
)

// leaveGrace bounds cleanup when the task context is already dead.
const leaveGrace = 30 * time.Second

// NoteWriter persists the finished transcript as a note.
type NoteWriter interface {
	CreateMeetingNote(ctx context.Context, note notes.Note) (notes.Ref, error)
}

// Summarizer produces the best-effort meeting summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Embedder derives an embedding vector for semantic retrieval.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists transcript embeddings.
type VectorStore interface {
	Upsert(ctx context.Context, emb vector.Embedding) error
}

// Transcriber bridges an audio frame stream to the transcription backend.
type Transcriber interface {
	Run(ctx context.Context, frames <-chan []byte) (string, error)
}

// Clients are the per-task collaborators, built from the message's apiKeys.
type Clients struct {
	Notes      NoteWriter
	Summarizer Summarizer
	Embedder   Embedder
	Vector     VectorStore
}

// Runner drives one task through the lifecycle state machine. The factory
// fields keep credentials and client handles task-scoped.
type Runner struct {
	Store status.Store

	NewAgent       func(m *Message) (agent.Session, error)
	NewClients     func(m *Message) (*Clients, error)
	NewTranscriber func(m *Message) Transcriber
}

// Run executes the task end to end and returns its terminal status. Every
// phase writes the status record before the phase runs; failures short-circuit
// the remaining phases but always reach cleanup. Run never panics the worker
// over one bad task.
func (r *Runner) Run(ctx context.Context, m *Message) status.Status {
	logging.Info(logging.CategoryTask, "task started taskID=%s platform=%s meetingID=%s",
		m.TaskID, m.Platform, m.MeetingIdentifier)

	write := func(st status.Status, details, noteURL string) {
		rec := status.Record{
			TaskID:       m.TaskID,
			UserID:       m.UserID,
			Platform:     m.Platform,
			MeetingID:    m.MeetingIdentifier,
			Status:       st,
			Timestamp:    time.Now().UTC(),
			ErrorDetails: details,
			FinalNoteURL: noteURL,
		}
		// A status write failure must not kill the task; the work itself
		// can still complete. It does cost external visibility, so shout.
		if err := r.Store.Upsert(ctx, rec); err != nil {
			logging.Error(logging.CategoryTask, "status write failed taskID=%s status=%s: %v", m.TaskID, st, err)
		}
	}
	fail := func(err error) status.Status {
		st, details := failureStatus(err)
		logging.Fail(logging.CategoryTask, "task failed taskID=%s status=%s: %v", m.TaskID, st, err)
		write(st, details, "")
		return st
	}

	write(status.StatusReceived, "", "")

	// Validation happens before any resource is acquired.
	if err := m.Validate(); err != nil {
		return fail(err)
	}

	write(status.StatusInitializingClients, "", "")
	clients, err := r.NewClients(m)
	if err != nil {
		return fail(err)
	}

	write(status.StatusInitializingAgent, "", "")
	sess, err := r.NewAgent(m)
	if err != nil {
		return fail(err)
	}

	// The one non-negotiable property: once an agent exists, it is left,
	// whatever else happens. Cleanup errors never override the decided
	// terminal status.
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), leaveGrace)
		defer cancel()
		if err := sess.Leave(leaveCtx); err != nil {
			logging.Error(logging.CategoryTask, "agent leave failed taskID=%s: %v", m.TaskID, err)
		}
	}()

	write(status.StatusJoiningMeeting, "", "")
	creds := agent.Credentials{
		SDKKey:          m.APIKeys.SDKKey,
		SDKSecret:       m.APIKeys.SDKSecret,
		MeetingPassword: m.MeetingPassword,
		DeviceSpecifier: m.AudioSettings.AudioDeviceSpecifier,
	}
	if err := sess.Join(ctx, m.MeetingIdentifier, creds); err != nil {
		return fail(err)
	}

	write(status.StatusCapturing, "", "")
	frames, err := sess.StartAudioCapture(ctx, m.MeetingIdentifier)
	if err != nil {
		return fail(err)
	}

	transcript, bridgeErr := r.NewTranscriber(m).Run(ctx, frames)
	sess.StopAudioCapture()
	if capErr := sess.CaptureErr(); capErr != nil {
		logging.Warning(logging.CategoryTask, "capture ended abnormally taskID=%s: %v", m.TaskID, capErr)
	}

	// A bridge failure is the true cause even when no text came through;
	// only a session that ended normally or by ceiling can be judged on
	// transcript emptiness.
	if bridgeErr != nil && !isTimeout(bridgeErr) {
		return fail(bridgeErr)
	}
	if transcript == "" {
		if bridgeErr != nil {
			logging.Warning(logging.CategoryTask, "session hit a ceiling without a transcript taskID=%s: %v",
				m.TaskID, bridgeErr)
		}
		return fail(ErrEmptyTranscript)
	}
	if bridgeErr != nil {
		// A timeout with a usable transcript still delivers the note.
		logging.Warning(logging.CategoryTask, "session hit a ceiling, saving partial transcript taskID=%s: %v",
			m.TaskID, bridgeErr)
	}

	write(status.StatusProcessing, "", "")

	summary, err := clients.Summarizer.Summarize(ctx, transcript)
	if err != nil {
		logging.Warning(logging.CategoryTask, "summary generation failed taskID=%s: %v", m.TaskID, err)
		summary = ""
	}

	ref, err := clients.Notes.CreateMeetingNote(ctx, notes.Note{
		Title:         m.NotionNoteTitle,
		Transcript:    transcript,
		Summary:       summary,
		Source:        m.NotionSource,
		LinkedEventID: m.LinkedEventID,
	})
	if err != nil {
		return fail(&PersistenceError{Op: "create meeting note", Err: err})
	}

	// Secondary deliverable: the embedding. The note is already saved, so a
	// failure here degrades to a warning.
	r.storeEmbedding(ctx, clients, m, transcript)

	write(status.StatusCompleted, "", ref.URL)
	logging.Success(logging.CategoryTask, "task completed taskID=%s noteURL=%s", m.TaskID, ref.URL)
	return status.StatusCompleted
}

func (r *Runner) storeEmbedding(ctx context.Context, clients *Clients, m *Message, transcript string) {
	if clients.Embedder == nil || clients.Vector == nil {
		return
	}
	vec, err := clients.Embedder.EmbedText(ctx, transcript)
	if err != nil {
		logging.Warning(logging.CategoryTask, "embedding failed taskID=%s: %v", m.TaskID, err)
		return
	}
	emb := vector.Embedding{
		ContentHash: vector.HashContent(transcript),
		TaskID:      m.TaskID,
		UserID:      m.UserID,
		MeetingID:   m.MeetingIdentifier,
		Vector:      vec,
	}
	if err := clients.Vector.Upsert(ctx, emb); err != nil {
		logging.Warning(logging.CategoryTask, "embedding upsert failed taskID=%s: %v", m.TaskID, err)
	}
}

func isTimeout(err error) bool {
	st, _ := failureStatus(err)
	return st == status.Failed(status.ReasonTimeout)
}
