package task

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rush86999/atom-meeting-worker/internal/agent"
	"github.com/rush86999/atom-meeting-worker/internal/notes"
	"github.com/rush86999/atom-meeting-worker/internal/status"
	"github.com/rush86999/atom-meeting-worker/internal/transcribe"
	"github.com/rush86999/atom-meeting-worker/internal/vector"
)

type fakeSession struct {
	mu        sync.Mutex
	meetingID string
	active    bool

	joinErr    error
	captureErr error
	frames     [][]byte

	leaveCalls int
}

func (f *fakeSession) Join(_ context.Context, meetingID string, _ agent.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.meetingID = meetingID
	f.active = true
	return nil
}

func (f *fakeSession) StartAudioCapture(_ context.Context, meetingID string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meetingID == "" {
		return nil, agent.ErrNotInMeeting
	}
	if meetingID != f.meetingID {
		return nil, &agent.MeetingIDMismatchError{Joined: f.meetingID, Requested: meetingID}
	}
	ch := make(chan []byte, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch, nil
}

func (f *fakeSession) CaptureErr() error { return f.captureErr }

func (f *fakeSession) StopAudioCapture() {}

func (f *fakeSession) Leave(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	f.active = false
	f.meetingID = ""
	return nil
}

func (f *fakeSession) CurrentMeetingID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meetingID
}

func (f *fakeSession) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type fakeTranscriber struct {
	transcript string
	err        error
}

func (f *fakeTranscriber) Run(context.Context, <-chan []byte) (string, error) {
	return f.transcript, f.err
}

type fakeNotes struct {
	createdNote notes.Note
	createErr   error
	calls       int
}

func (f *fakeNotes) CreateMeetingNote(_ context.Context, n notes.Note) (notes.Ref, error) {
	f.calls++
	f.createdNote = n
	if f.createErr != nil {
		return notes.Ref{}, f.createErr
	}
	return notes.Ref{PageID: "page-1", URL: "https://notion.so/page-1"}, nil
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	return f.summary, f.err
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeVectorStore struct {
	mu      sync.Mutex
	upserts []vector.Embedding
}

func (f *fakeVectorStore) Upsert(_ context.Context, emb vector.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, emb)
	return nil
}

type runnerFixture struct {
	runner      *Runner
	store       *status.MemoryStore
	session     *fakeSession
	notes       *fakeNotes
	vectors     *fakeVectorStore
	transcriber *fakeTranscriber
	agentCalls  int
}

func newFixture() *runnerFixture {
	fx := &runnerFixture{
		store:       status.NewMemoryStore(),
		session:     &fakeSession{frames: [][]byte{make([]byte, 3200)}},
		notes:       &fakeNotes{},
		vectors:     &fakeVectorStore{},
		transcriber: &fakeTranscriber{transcript: "hello world"},
	}
	fx.runner = &Runner{
		Store: fx.store,
		NewAgent: func(*Message) (agent.Session, error) {
			fx.agentCalls++
			return fx.session, nil
		},
		NewClients: func(*Message) (*Clients, error) {
			return &Clients{
				Notes:      fx.notes,
				Summarizer: &fakeSummarizer{summary: "a short summary"},
				Embedder:   &fakeEmbedder{},
				Vector:     fx.vectors,
			}, nil
		},
		NewTranscriber: func(*Message) Transcriber { return fx.transcriber },
	}
	return fx
}

func testMessage() *Message {
	m, err := Parse(validBody())
	if err != nil {
		panic(err)
	}
	return m
}

func TestRunner_HappyPath(t *testing.T) {
	fx := newFixture()
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.StatusCompleted, st)

	assert.Equal(t, []status.Status{
		status.StatusReceived,
		status.StatusInitializingClients,
		status.StatusInitializingAgent,
		status.StatusJoiningMeeting,
		status.StatusCapturing,
		status.StatusProcessing,
		status.StatusCompleted,
	}, fx.store.History(m.TaskID))

	rec, ok := fx.store.Get(m.TaskID)
	require.True(t, ok)
	assert.Equal(t, "https://notion.so/page-1", rec.FinalNoteURL)
	assert.Empty(t, rec.ErrorDetails)

	assert.Equal(t, "hello world", fx.notes.createdNote.Transcript)
	assert.Equal(t, "a short summary", fx.notes.createdNote.Summary)
	assert.Equal(t, "Weekly Sync", fx.notes.createdNote.Title)

	require.Len(t, fx.vectors.upserts, 1)
	assert.Equal(t, vector.HashContent("hello world"), fx.vectors.upserts[0].ContentHash)
	assert.Equal(t, m.TaskID, fx.vectors.upserts[0].TaskID)

	assert.Equal(t, 1, fx.session.leaveCalls)
	assert.False(t, fx.session.IsActive())
}

func TestRunner_MissingParametersFailsBeforeAgentExists(t *testing.T) {
	fx := newFixture()
	m := testMessage()
	m.APIKeys = APIKeys{}

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.Failed(status.ReasonMissingParameters), st)

	rec, ok := fx.store.Get(m.TaskID)
	require.True(t, ok)
	assert.Contains(t, rec.ErrorDetails, "apiKeys.notion")
	assert.Contains(t, rec.ErrorDetails, "apiKeys.deepgram")
	assert.Contains(t, rec.ErrorDetails, "apiKeys.openai")

	assert.Zero(t, fx.agentCalls)
	assert.Zero(t, fx.session.leaveCalls)
	assert.Zero(t, fx.notes.calls)
}

func TestRunner_EmptyTranscriptFailsAndStillLeaves(t *testing.T) {
	fx := newFixture()
	fx.transcriber.transcript = ""
	fx.transcriber.err = transcribe.ErrSilenceTimeout
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.Failed(status.ReasonEmptyTranscript), st)

	assert.Equal(t, 1, fx.session.leaveCalls)
	assert.False(t, fx.session.IsActive())
	assert.Zero(t, fx.notes.calls)
}

func TestRunner_TimeoutWithPartialTranscriptStillDeliversNote(t *testing.T) {
	fx := newFixture()
	fx.transcriber.transcript = "partial notes so far"
	fx.transcriber.err = transcribe.ErrSessionTimeout
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.StatusCompleted, st)
	assert.Equal(t, 1, fx.notes.calls)
	assert.Equal(t, "partial notes so far", fx.notes.createdNote.Transcript)
}

func TestRunner_ConnectionErrorWithoutTranscriptIsTranscriptionFailure(t *testing.T) {
	fx := newFixture()
	fx.transcriber.transcript = ""
	fx.transcriber.err = &transcribe.ConnectionError{Err: errors.New("dial tcp: refused")}
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.Failed(status.ReasonTranscription), st)
	assert.Zero(t, fx.notes.calls)
	assert.Equal(t, 1, fx.session.leaveCalls)
}

func TestRunner_BackendErrorWithPartialTranscriptFails(t *testing.T) {
	fx := newFixture()
	fx.transcriber.transcript = "some words"
	fx.transcriber.err = &transcribe.BackendError{Code: "DATA-0000", Description: "bad audio"}
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.Failed(status.ReasonTranscription), st)
	assert.Zero(t, fx.notes.calls)
	assert.Equal(t, 1, fx.session.leaveCalls)
}

func TestRunner_JoinFailureLeavesAnyway(t *testing.T) {
	fx := newFixture()
	fx.session.joinErr = &agent.JoinError{Reason: "helper exited", Err: errors.New("exit status 1")}
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.Failed(status.ReasonJoin), st)
	assert.Equal(t, 1, fx.session.leaveCalls)
	assert.Zero(t, fx.notes.calls)
}

func TestRunner_NoteCreationFailureIsPersistenceFailure(t *testing.T) {
	fx := newFixture()
	fx.notes.createErr = errors.New("notion 503")
	m := testMessage()

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.Failed(status.ReasonPersistence), st)
	assert.Equal(t, 1, fx.session.leaveCalls)
}

func TestRunner_SummaryFailureDoesNotBlockNote(t *testing.T) {
	fx := newFixture()
	m := testMessage()
	fx.runner.NewClients = func(*Message) (*Clients, error) {
		return &Clients{
			Notes:      fx.notes,
			Summarizer: &fakeSummarizer{err: errors.New("openai quota")},
			Embedder:   &fakeEmbedder{},
			Vector:     fx.vectors,
		}, nil
	}

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.StatusCompleted, st)
	assert.Empty(t, fx.notes.createdNote.Summary)
	assert.Equal(t, "hello world", fx.notes.createdNote.Transcript)
}

func TestRunner_EmbeddingFailureDoesNotBlockCompletion(t *testing.T) {
	fx := newFixture()
	m := testMessage()
	fx.runner.NewClients = func(*Message) (*Clients, error) {
		return &Clients{
			Notes:      fx.notes,
			Summarizer: &fakeSummarizer{summary: "s"},
			Embedder:   &fakeEmbedder{err: errors.New("embed down")},
			Vector:     fx.vectors,
		}, nil
	}

	st := fx.runner.Run(context.Background(), m)
	assert.Equal(t, status.StatusCompleted, st)
	assert.Empty(t, fx.vectors.upserts)
}

func TestFailureStatus_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want status.Status
	}{
		{"missing parameters", &MissingParametersError{Fields: []string{"userId"}}, status.Failed(status.ReasonMissingParameters)},
		{"unknown platform", &agent.InstantiationError{Platform: "x"}, status.Failed(status.ReasonAgentInit)},
		{"auth", &agent.AuthError{Err: errors.New("sign")}, status.Failed(status.ReasonJoin)},
		{"join", &agent.JoinError{Reason: "launch"}, status.Failed(status.ReasonJoin)},
		{"device selection", &agent.DeviceSelectionError{Specifier: "x", Reason: "no match"}, status.Failed(status.ReasonAudioDevice)},
		{"no device", agent.ErrNoAudioDevice, status.Failed(status.ReasonAudioDevice)},
		{"empty transcript", ErrEmptyTranscript, status.Failed(status.ReasonEmptyTranscript)},
		{"session timeout", transcribe.ErrSessionTimeout, status.Failed(status.ReasonTimeout)},
		{"silence timeout", transcribe.ErrSilenceTimeout, status.Failed(status.ReasonTimeout)},
		{"connection", &transcribe.ConnectionError{Err: errors.New("reset")}, status.Failed(status.ReasonTranscription)},
		{"backend", &transcribe.BackendError{Description: "bad"}, status.Failed(status.ReasonTranscription)},
		{"persistence", &PersistenceError{Op: "create note", Err: errors.New("503")}, status.Failed(status.ReasonPersistence)},
		{"anything else", errors.New("boom"), status.Failed(status.ReasonInternal)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, details := failureStatus(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, details)
			assert.True(t, got.Terminal())
		})
	}
}
