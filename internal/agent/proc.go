package agent

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

// terminateProcess asks a child process to exit gracefully and escalates to a
// forceful kill if the grace period expires. exited must close when the
// process's Wait returns. The call blocks until exit is confirmed.
func terminateProcess(cmd *exec.Cmd, exited <-chan struct{}, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-exited:
		// Already gone, nothing to do.
		return
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may have exited between the check and the signal.
		logging.Debug(logging.CategoryProcess, "terminate signal failed pid=%d: %v", cmd.Process.Pid, err)
	}

	select {
	case <-exited:
		return
	case <-time.After(grace):
	}

	logging.Warning(logging.CategoryProcess, "helper did not exit within %v, killing pid=%d", grace, cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil {
		logging.Debug(logging.CategoryProcess, "kill failed pid=%d: %v", cmd.Process.Pid, err)
	}
	<-exited
}
