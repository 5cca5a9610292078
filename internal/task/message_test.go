package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBody() []byte {
	return []byte(`{
		"taskId": "task-1",
		"userId": "user-1",
		"platform": "sdk_process",
		"meetingIdentifier": "123456789",
		"meetingPassword": "pw",
		"notionNoteTitle": "Weekly Sync",
		"notionSource": "Meeting Transcription",
		"linkedEventId": "evt-9",
		"notionDbId": "db-1",
		"apiKeys": {
			"notion": "nk",
			"deepgram": "dk",
			"openai": "ok",
			"sdkKey": "zk",
			"sdkSecret": "zs"
		},
		"audioSettings": {"audioDeviceSpecifier": "BlackHole"}
	}`)
}

func TestParse(t *testing.T) {
	m, err := Parse(validBody())
	require.NoError(t, err)

	assert.Equal(t, "task-1", m.TaskID)
	assert.Equal(t, "user-1", m.UserID)
	assert.Equal(t, "sdk_process", m.Platform)
	assert.Equal(t, "123456789", m.MeetingIdentifier)
	assert.Equal(t, "Weekly Sync", m.NotionNoteTitle)
	assert.Equal(t, "nk", m.APIKeys.Notion)
	assert.Equal(t, "zs", m.APIKeys.SDKSecret)
	assert.Equal(t, "BlackHole", m.AudioSettings.AudioDeviceSpecifier)
}

func TestParse_GeneratesTaskIDWhenMissing(t *testing.T) {
	m, err := Parse([]byte(`{"userId":"u"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, m.TaskID)
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"userId": `))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	m, err := Parse(validBody())
	require.NoError(t, err)
	assert.NoError(t, m.Validate())
}

func TestValidate_ListsEveryMissingField(t *testing.T) {
	m := &Message{TaskID: "task-1"}

	err := m.Validate()
	var missing *MissingParametersError
	require.ErrorAs(t, err, &missing)

	assert.ElementsMatch(t, []string{
		"userId",
		"platform",
		"meetingIdentifier",
		"notionNoteTitle",
		"apiKeys.notion",
		"apiKeys.deepgram",
		"apiKeys.openai",
	}, missing.Fields)
}

func TestValidate_SDKCredentialsOnlyRequiredForSDKPlatform(t *testing.T) {
	m, err := Parse(validBody())
	require.NoError(t, err)

	m.APIKeys.SDKKey = ""
	m.APIKeys.SDKSecret = ""

	err = m.Validate()
	var missing *MissingParametersError
	require.ErrorAs(t, err, &missing)
	assert.ElementsMatch(t, []string{"apiKeys.sdkKey", "apiKeys.sdkSecret"}, missing.Fields)

	m.Platform = "browser_device"
	assert.NoError(t, m.Validate())
}
