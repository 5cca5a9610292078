package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, Failed(ReasonMissingParameters).Terminal())
	assert.True(t, Failed(ReasonEmptyTranscript).Terminal())

	assert.False(t, StatusReceived.Terminal())
	assert.False(t, StatusInitializingClients.Terminal())
	assert.False(t, StatusJoiningMeeting.Terminal())
	assert.False(t, StatusCapturing.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestFailed(t *testing.T) {
	assert.Equal(t, Status("Failed: Missing Parameters"), Failed(ReasonMissingParameters))
	assert.Equal(t, Status("Failed: No transcript generated"), Failed(ReasonEmptyTranscript))
}

func TestMemoryStore_UpsertReplacesAndRecordsHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, Record{TaskID: "t1", Status: StatusReceived, Timestamp: time.Now()}))
	require.NoError(t, store.Upsert(ctx, Record{TaskID: "t1", Status: StatusJoiningMeeting}))
	require.NoError(t, store.Upsert(ctx, Record{TaskID: "t2", Status: StatusReceived}))
	require.NoError(t, store.Upsert(ctx, Record{TaskID: "t1", Status: StatusCompleted, FinalNoteURL: "https://notion.so/p"}))

	rec, ok := store.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "https://notion.so/p", rec.FinalNoteURL)

	assert.Equal(t, []Status{StatusReceived, StatusJoiningMeeting, StatusCompleted}, store.History("t1"))
	assert.Equal(t, []Status{StatusReceived}, store.History("t2"))

	_, ok = store.Get("t3")
	assert.False(t, ok)
	assert.Empty(t, store.History("t3"))
}
