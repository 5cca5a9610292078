package agent

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// validateMeetingURL checks that a browser-platform meeting identifier is an
// absolute http(s) URL the OS handler can open.
func validateMeetingURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("parse meeting url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("meeting url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("meeting url has no host")
	}
	return nil
}

// launchURLHandler opens the platform URL handler for a meeting link as a
// detached process. Success means the handler launched, not that anyone
// actually reached the meeting.
func launchURLHandler(meetingURL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", meetingURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", meetingURL)
	default:
		cmd = exec.Command("xdg-open", meetingURL)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch url handler: %w", err)
	}
	// Detach; the handler's lifetime is not ours to manage.
	return cmd.Process.Release()
}
