package agent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rush86999/atom-meeting-worker/internal/config"
)

func testConfig(helperPath string) *config.Config {
	return &config.Config{
		HelperPath:         helperPath,
		SampleRate:         16000,
		Channels:           1,
		CaptureReadTimeout: 500 * time.Millisecond,
		JoinGracePeriod:    300 * time.Millisecond,
		LeaveGracePeriod:   500 * time.Millisecond,
	}
}

// writeHelper writes an executable shell script acting as the SDK helper.
func writeHelper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell helper scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testCreds() Credentials {
	return Credentials{SDKKey: "sdk-key", SDKSecret: "sdk-secret"}
}

func TestProcessAgent_JoinFailsWhenHelperExitsInGraceWindow(t *testing.T) {
	helper := writeHelper(t, `echo "invalid token" >&2
exit 1
`)
	p := NewProcessAgent(testConfig(helper))

	err := p.Join(context.Background(), "123", testCreds())
	require.Error(t, err)

	var joinErr *JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.False(t, p.IsActive())
	assert.Empty(t, p.CurrentMeetingID())
}

func TestProcessAgent_DoubleJoinFails(t *testing.T) {
	helper := writeHelper(t, `sleep 30
`)
	p := NewProcessAgent(testConfig(helper))
	defer p.Leave(context.Background())

	require.NoError(t, p.Join(context.Background(), "123", testCreds()))
	assert.True(t, p.IsActive())

	err := p.Join(context.Background(), "456", testCreds())
	assert.ErrorIs(t, err, ErrAlreadyInMeeting)
	assert.Equal(t, "123", p.CurrentMeetingID())
}

func TestProcessAgent_CaptureYieldsFramesInOrderUntilEOF(t *testing.T) {
	// Two full frames of distinct bytes, then a clean exit.
	helper := writeHelper(t, `awk 'BEGIN { for (i = 0; i < 3200; i++) printf "a"; for (i = 0; i < 3200; i++) printf "b" }'
sleep 0.5
`)
	p := NewProcessAgent(testConfig(helper))
	defer p.Leave(context.Background())

	require.NoError(t, p.Join(context.Background(), "123", testCreds()))

	frames, err := p.StartAudioCapture(context.Background(), "123")
	require.NoError(t, err)

	var collected [][]byte
	for frame := range frames {
		collected = append(collected, frame)
	}

	require.Len(t, collected, 2)
	assert.Equal(t, byte('a'), collected[0][0])
	assert.Equal(t, 3200, len(collected[0]))
	assert.Equal(t, byte('b'), collected[1][0])
	assert.NoError(t, p.CaptureErr())
}

func TestProcessAgent_DrainsBufferedFramesAfterHelperExit(t *testing.T) {
	// 20 full frames written in one burst, then an immediate exit. Every
	// frame buffered in the pipe must still be yielded before EOF. The
	// leading sleep keeps the helper alive through the join grace window.
	helper := writeHelper(t, `sleep 0.5
head -c 64000 /dev/zero
`)
	p := NewProcessAgent(testConfig(helper))
	defer p.Leave(context.Background())

	require.NoError(t, p.Join(context.Background(), "123", testCreds()))

	frames, err := p.StartAudioCapture(context.Background(), "123")
	require.NoError(t, err)

	count := 0
	for frame := range frames {
		assert.Equal(t, 3200, len(frame))
		count++
	}
	assert.Equal(t, 20, count)
	assert.NoError(t, p.CaptureErr())
}

func TestProcessAgent_CaptureMeetingIDMismatch(t *testing.T) {
	helper := writeHelper(t, `sleep 30
`)
	p := NewProcessAgent(testConfig(helper))
	defer p.Leave(context.Background())

	require.NoError(t, p.Join(context.Background(), "123", testCreds()))

	_, err := p.StartAudioCapture(context.Background(), "999")
	var mismatch *MeetingIDMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "123", mismatch.Joined)
	assert.Equal(t, "999", mismatch.Requested)
}

func TestProcessAgent_CaptureBeforeJoinFails(t *testing.T) {
	p := NewProcessAgent(testConfig("/nonexistent"))
	_, err := p.StartAudioCapture(context.Background(), "123")
	assert.ErrorIs(t, err, ErrNotInMeeting)
}

func TestProcessAgent_LeaveEscalatesToKill(t *testing.T) {
	// The helper ignores SIGTERM; Leave must escalate to SIGKILL and still
	// return without error.
	helper := writeHelper(t, `trap '' TERM
sleep 60
`)
	p := NewProcessAgent(testConfig(helper))

	require.NoError(t, p.Join(context.Background(), "123", testCreds()))
	require.True(t, p.IsActive())

	start := time.Now()
	require.NoError(t, p.Leave(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, p.IsActive())
	assert.Empty(t, p.CurrentMeetingID())
}

func TestProcessAgent_LeaveIsIdempotent(t *testing.T) {
	helper := writeHelper(t, `sleep 30
`)
	p := NewProcessAgent(testConfig(helper))

	// Never joined: leave is a no-op.
	require.NoError(t, p.Leave(context.Background()))

	require.NoError(t, p.Join(context.Background(), "123", testCreds()))
	require.NoError(t, p.Leave(context.Background()))
	require.NoError(t, p.Leave(context.Background()))
	assert.False(t, p.IsActive())
}

func TestProcessAgent_StopCaptureWithoutStartIsSafe(t *testing.T) {
	p := NewProcessAgent(testConfig("/nonexistent"))
	p.StopAudioCapture()
}

func TestSignHelperToken_Claims(t *testing.T) {
	now := time.Now()
	signed, err := signHelperToken("app-key", "app-secret", now)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("app-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "app-key", claims["appKey"])
	assert.EqualValues(t, now.Unix(), claims["iat"])
	assert.EqualValues(t, now.Add(time.Hour).Unix(), claims["exp"])
	assert.Equal(t, claims["exp"], claims["tokenExp"])
}
