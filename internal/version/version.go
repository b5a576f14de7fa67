// Package version reports the build identity of the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via ldflags at release time:
//
//	go build -ldflags "-X github.com/soyeahso/memarena/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/memarena/internal/version.Commit=abc123"
//
// Without them, Commit and Date come from the VCS stamp go build embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var stampOnce sync.Once

// stamp fills Commit and Date from the embedded build info when ldflags left
// them unset.
func stamp() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		}
	}
}

// Info returns a one-line version string.
func Info() string {
	stampOnce.Do(stamp)
	return fmt.Sprintf("memarena %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on every upstream request.
func UserAgent() string {
	return "memarena/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
