// Package transcribe bridges a live audio frame stream to a streaming
// speech-to-text backend over one websocket connection and assembles the
// finalized transcript.
package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rush86999/atom-meeting-worker/internal/logging"
	"github.com/rush86999/atom-meeting-worker/internal/metrics"
)

// keepAliveInterval is how often a KeepAlive is sent while no audio flows.
const keepAliveInterval = 8 * time.Second

// watchdogInterval is how often the timeout ceilings are checked.
const watchdogInterval = time.Second

// drainWait bounds how long the receiver may drain the server's close
// handshake after finalization.
const drainWait = 5 * time.Second

// Config configures one bridge run.
type Config struct {
	// URL is the live listen endpoint (wss://.../v1/listen).
	URL    string
	APIKey string

	SampleRate int
	Channels   int

	// MaxDuration is the overall session ceiling; SilenceTimeout is the
	// ceiling on elapsed time since the last observed speech activity.
	MaxDuration    time.Duration
	SilenceTimeout time.Duration

	// Dialer overrides the websocket dialer (tests). Nil uses the default.
	Dialer *websocket.Dialer
}

// Bridge streams audio frames to the transcription backend and accumulates
// utterances the backend marks both is_final and speech_final. Interim
// results only reset the inactivity timer.
type Bridge struct {
	cfg Config
}

// NewBridge creates a bridge. Run may be called once per bridge.
func NewBridge(cfg Config) *Bridge {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 2 * time.Hour
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 5 * time.Minute
	}
	return &Bridge{cfg: cfg}
}

// Run consumes frames until the source closes, a watchdog fires, the
// connection closes, or ctx is cancelled — whichever happens first — then
// finalizes the connection and returns the space-joined transcript.
// Cancellation is a normal outcome, not an error.
func (b *Bridge) Run(ctx context.Context, frames <-chan []byte) (string, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	defer conn.Close()

	var (
		acc Accumulator

		writeMu sync.Mutex

		activityMu   sync.Mutex
		lastActivity = time.Now()

		errOnce  sync.Once
		firstErr error

		done     = make(chan struct{})
		doneOnce sync.Once
	)
	started := time.Now()

	setErr := func(err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() { firstErr = err })
	}
	finish := func() { doneOnce.Do(func() { close(done) }) }
	touch := func() {
		activityMu.Lock()
		lastActivity = time.Now()
		activityMu.Unlock()
	}
	sinceActivity := func() time.Duration {
		activityMu.Lock()
		defer activityMu.Unlock()
		return time.Since(lastActivity)
	}

	writeText := func(payload string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, []byte(payload))
	}

	// End-of-audio must be signalled exactly once, on every termination path.
	endAudio := sync.OnceFunc(func() {
		if err := writeText(closeStreamMsg); err != nil {
			logging.Debug(logging.CategoryTranscribe, "close stream signal failed: %v", err)
		}
	})

	var wg sync.WaitGroup

	// Sender: forward frames in order; on source exhaustion signal
	// end-of-audio and exit.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					endAudio()
					return
				}
				writeMu.Lock()
				err := conn.WriteMessage(websocket.BinaryMessage, frame)
				writeMu.Unlock()
				if err != nil {
					setErr(&ConnectionError{Err: err})
					finish()
					return
				}
				metrics.FramesForwarded.Inc()
			case <-time.After(keepAliveInterval):
				if err := writeText(keepAliveMsg); err != nil {
					setErr(&ConnectionError{Err: err})
					finish()
					return
				}
			}
		}
	}()

	// Receiver: decode result events; only finalized utterances are stored.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer finish()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
					// Finalization already in progress; any read error
					// here is the close handshake, not a failure.
				default:
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						setErr(&ConnectionError{Err: err})
					}
				}
				return
			}

			var ev event
			if err := json.Unmarshal(data, &ev); err != nil {
				logging.Debug(logging.CategoryTranscribe, "undecodable event: %v", err)
				continue
			}

			switch ev.Type {
			case eventResults:
				if len(ev.Channel.Alternatives) == 0 {
					continue
				}
				text := strings.TrimSpace(ev.Channel.Alternatives[0].Transcript)
				if text != "" {
					touch()
				}
				if ev.IsFinal && ev.SpeechFinal && text != "" {
					acc.Append(text)
					metrics.UtterancesFinalized.Inc()
					logging.Debug(logging.CategoryTranscribe, "utterance finalized chars=%d", len(text))
				}
			case eventSpeechStarted:
				touch()
			case eventUtteranceEnd, eventMetadata:
				// Informational.
			case eventError:
				desc := ev.Description
				if desc == "" {
					desc = ev.ErrMsg
				}
				setErr(&BackendError{Code: ev.ErrCode, Description: desc})
				return
			}
		}
	}()

	// Watchdog: overall and silence ceilings are independent; first to fire
	// wins and triggers finalization.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(started) > b.cfg.MaxDuration {
					logging.Warning(logging.CategoryTranscribe, "session ceiling reached after %v", b.cfg.MaxDuration)
					setErr(ErrSessionTimeout)
					finish()
					return
				}
				if idle := sinceActivity(); idle > b.cfg.SilenceTimeout {
					logging.Warning(logging.CategoryTranscribe, "silence ceiling reached idle=%v", idle)
					setErr(ErrSilenceTimeout)
					finish()
					return
				}
			}
		}
	}()

	// Wait for the first terminal condition, then finalize: signal
	// end-of-audio, give the receiver a bounded window to drain the close
	// handshake, and close the connection.
	select {
	case <-done:
	case <-ctx.Done():
		finish()
	}
	endAudio()
	_ = conn.SetReadDeadline(time.Now().Add(drainWait))
	wg.Wait()

	transcript := acc.Transcript()
	logging.Info(logging.CategoryTranscribe, "bridge finished utterances=%d chars=%d err=%v",
		acc.Len(), len(transcript), firstErr)
	return transcript, firstErr
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(b.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(b.cfg.Channels))
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", "300")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if b.cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+b.cfg.APIKey)
	}

	dialer := b.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	logging.Info(logging.CategoryTranscribe, "connected to transcription backend host=%s", u.Host)
	return conn, nil
}
