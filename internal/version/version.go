// Package version reports the build of the running binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at build time, for example:
//
//	go build -ldflags "-X github.com/soyeahso/chatform/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/chatform/internal/version.Commit=abc123
//	  -X github.com/soyeahso/chatform/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var (
	vcsOnce     sync.Once
	vcsRevision string
	vcsTime     string
	vcsModified bool
)

// readVCS picks up the revision stamped by the go command when ldflags
// were not used.
func readVCS() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			vcsRevision = s.Value
		case "vcs.time":
			vcsTime = s.Value
		case "vcs.modified":
			vcsModified = s.Value == "true"
		}
	}
}

func commit() string {
	if Commit != "unknown" {
		return short(Commit)
	}
	vcsOnce.Do(readVCS)
	if vcsRevision == "" {
		return Commit
	}
	rev := short(vcsRevision)
	if vcsModified {
		rev += "+dirty"
	}
	return rev
}

func date() string {
	if Date != "unknown" {
		return Date
	}
	vcsOnce.Do(readVCS)
	if vcsTime == "" {
		return Date
	}
	return vcsTime
}

// Build describes the running binary.
type Build struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

// Current returns the build of the running binary.
func Current() Build {
	return Build{
		Version:  Version,
		Commit:   commit(),
		Date:     date(),
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Info returns the line printed by "chatform version".
func Info() string {
	b := Current()
	return fmt.Sprintf("chatform %s (commit: %s, built: %s, %s)", b.Version, b.Commit, b.Date, b.Platform)
}

// UserAgent identifies chatform to chat functions, agent endpoints and
// IRC servers.
func UserAgent() string {
	return "chatform/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
