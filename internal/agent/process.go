package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rush86999/atom-meeting-worker/internal/config"
	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

// ProcessAgent attends a meeting by driving the native SDK helper binary.
// The helper joins the meeting itself and writes raw little-endian PCM to
// stdout in fixed frames; stderr carries line-oriented diagnostics.
type ProcessAgent struct {
	cfg *config.Config

	mu        sync.Mutex
	meetingID string
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	exited    chan struct{}
	exitErr   error
	drainWG   sync.WaitGroup

	capturing  bool
	stopOnce   sync.Once
	stopCh     chan struct{}
	captureMu  sync.Mutex
	captureErr error
}

var _ Session = (*ProcessAgent)(nil)

// NewProcessAgent creates a process-backed agent. No resource is acquired
// until Join.
func NewProcessAgent(cfg *config.Config) *ProcessAgent {
	return &ProcessAgent{cfg: cfg}
}

// Join signs a helper credential, spawns the helper and verifies it survives
// the join grace period. An immediate exit means the helper rejected the
// credentials or arguments.
func (p *ProcessAgent) Join(ctx context.Context, meetingID string, creds Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyInMeeting
	}

	token, err := signHelperToken(creds.SDKKey, creds.SDKSecret, time.Now())
	if err != nil {
		return err
	}

	args := []string{
		"--meeting_id", meetingID,
		"--token", token,
		"--sample_rate", strconv.Itoa(p.cfg.SampleRate),
		"--channels", strconv.Itoa(p.cfg.Channels),
	}
	if creds.MeetingPassword != "" {
		args = append(args, "--password", creds.MeetingPassword)
	}

	// The pipes are owned here, not by exec: cmd.Wait closes StdoutPipe ends
	// on exit, which would race the frame reader and discard audio still
	// buffered in the pipe. With our own pipes the reader drains to a true
	// EOF after the helper exits.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return &JoinError{Reason: "open helper stdout", Err: err}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return &JoinError{Reason: "open helper stderr", Err: err}
	}

	cmd := exec.Command(p.cfg.HelperPath, args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		stderr.Close()
		stderrW.Close()
		return &JoinError{Reason: "spawn helper", Err: err}
	}

	// The child holds its own descriptors now; closing the parent's write
	// ends lets reads hit EOF once the helper exits.
	stdoutW.Close()
	stderrW.Close()

	logging.Info(logging.CategoryProcess, "helper started pid=%d meetingID=%s", cmd.Process.Pid, meetingID)

	// Drain stderr before any stdout read so a chatty helper can never
	// deadlock on a full diagnostic pipe.
	p.drainWG.Add(1)
	go p.drainDiagnostics(stderr)

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(exited)
	}()

	// Grace check: a helper that dies this fast was rejected outright.
	p.mu.Unlock()
	alive := true
	select {
	case <-exited:
		alive = false
	case <-ctx.Done():
	case <-time.After(p.cfg.JoinGracePeriod):
	}
	p.mu.Lock()

	if !alive {
		p.drainWG.Wait()
		stdout.Close()
		exitErr := p.exitErr
		p.exitErr = nil
		return &JoinError{Reason: "helper exited during join grace period", Err: exitErr}
	}
	if ctx.Err() != nil {
		p.mu.Unlock()
		terminateProcess(cmd, exited, p.cfg.LeaveGracePeriod)
		p.mu.Lock()
		p.drainWG.Wait()
		stdout.Close()
		return &JoinError{Reason: "join cancelled", Err: ctx.Err()}
	}

	p.cmd = cmd
	p.stdout = stdout
	p.exited = exited
	p.meetingID = meetingID
	return nil
}

// StartAudioCapture reads fixed-size PCM frames from the helper's stdout and
// yields them in order. A per-read timeout is not fatal (the meeting may be
// silent); it only triggers a liveness re-check.
func (p *ProcessAgent) StartAudioCapture(ctx context.Context, meetingID string) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.meetingID == "" {
		return nil, ErrNotInMeeting
	}
	if meetingID != p.meetingID {
		return nil, &MeetingIDMismatchError{Joined: p.meetingID, Requested: meetingID}
	}
	if p.capturing {
		return nil, ErrCaptureActive
	}

	p.capturing = true
	p.stopOnce = sync.Once{}
	p.stopCh = make(chan struct{})
	p.captureMu.Lock()
	p.captureErr = nil
	p.captureMu.Unlock()

	frames := make(chan []byte, 8)
	stdout := p.stdout
	exited := p.exited
	stop := p.stopCh

	type readResult struct {
		data []byte
		err  error
	}
	reads := make(chan readResult)

	// Blocking reader. It exits on pipe EOF/close, which Leave forces by
	// terminating the helper.
	go func() {
		defer close(reads)
		for {
			buf := make([]byte, p.cfg.FrameBytes())
			n, err := io.ReadFull(stdout, buf)
			select {
			case reads <- readResult{data: buf[:n], err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(frames)
		defer p.endCapture()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case r, ok := <-reads:
				if !ok {
					return
				}
				if len(r.data) > 0 {
					select {
					case frames <- r.data:
					case <-stop:
						return
					case <-ctx.Done():
						return
					}
				}
				if r.err != nil {
					if isCleanStreamEnd(r.err) {
						logging.Info(logging.CategoryProcess, "helper audio stream ended meetingID=%s", meetingID)
					} else {
						p.setCaptureErr(r.err)
					}
					return
				}
			case <-time.After(p.cfg.CaptureReadTimeout):
				// Idle read; only fatal if the helper is gone.
				select {
				case <-exited:
					logging.Info(logging.CategoryProcess, "helper exited during capture meetingID=%s", meetingID)
					return
				default:
				}
			}
		}
	}()

	return frames, nil
}

// CaptureErr reports the error that ended the last capture stream, if any.
func (p *ProcessAgent) CaptureErr() error {
	p.captureMu.Lock()
	defer p.captureMu.Unlock()
	return p.captureErr
}

// StopAudioCapture requests capture shutdown. Safe if capture never started.
func (p *ProcessAgent) StopAudioCapture() {
	p.mu.Lock()
	stop := p.stopCh
	p.mu.Unlock()
	if stop == nil {
		return
	}
	p.stopOnce.Do(func() { close(stop) })
}

// Leave terminates the helper with escalation and waits for the diagnostic
// drain to finish. State is cleared last, so IsActive never reports true
// after Leave returns. Leave never fails for "already gone" conditions.
func (p *ProcessAgent) Leave(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	p.mu.Unlock()

	if cmd == nil {
		logging.Debug(logging.CategoryProcess, "leave with no active helper, nothing to do")
		return nil
	}

	p.StopAudioCapture()
	terminateProcess(cmd, exited, p.cfg.LeaveGracePeriod)
	p.drainWG.Wait()

	p.mu.Lock()
	if p.stdout != nil {
		p.stdout.Close()
	}
	logging.Info(logging.CategoryProcess, "left meeting meetingID=%s exit=%v", p.meetingID, p.exitErr)
	p.cmd = nil
	p.stdout = nil
	p.exited = nil
	p.exitErr = nil
	p.meetingID = ""
	p.capturing = false
	p.stopCh = nil
	p.mu.Unlock()
	return nil
}

// CurrentMeetingID returns the joined meeting id, or "".
func (p *ProcessAgent) CurrentMeetingID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meetingID
}

// IsActive reports whether the helper process is still running.
func (p *ProcessAgent) IsActive() bool {
	p.mu.Lock()
	exited := p.exited
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

func (p *ProcessAgent) drainDiagnostics(stderr io.ReadCloser) {
	defer p.drainWG.Done()
	defer stderr.Close()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logging.Info(logging.CategoryProcess, "helper: %s", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		logging.Debug(logging.CategoryProcess, "diagnostic drain ended: %v", err)
	}
}

func (p *ProcessAgent) endCapture() {
	p.mu.Lock()
	p.capturing = false
	p.mu.Unlock()
}

func (p *ProcessAgent) setCaptureErr(err error) {
	p.captureMu.Lock()
	p.captureErr = err
	p.captureMu.Unlock()
	logging.Error(logging.CategoryProcess, "audio capture ended abnormally: %v", err)
}

func isCleanStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
