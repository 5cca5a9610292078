// Package version holds the build version, overridden at link time via
// -ldflags "-X github.com/rush86999/atom-meeting-worker/internal/version.Version=...".
package version

// Version is the worker build version.
var Version = "dev"
