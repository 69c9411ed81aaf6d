// Package buildinfo reports the binary's version. Release builds stamp
// the variables below with -ldflags; plain `go build` falls back to the
// VCS metadata the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// vcsInfo fills commit and time from the embedded build settings when
// ldflags did not set them.
func vcsInfo() (commit, built string, modified bool) {
	commit, built = GitCommit, BuildTime
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, built, false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "unknown" && len(s.Value) >= 12 {
				commit = s.Value[:12]
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	return commit, built, modified
}

// Info is served by GET /v1/version and printed by `fashion version`.
func Info() map[string]string {
	commit, built, modified := vcsInfo()
	info := map[string]string{
		"version":    Version,
		"git_commit": commit,
		"build_time": built,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
	if modified {
		info["dirty"] = "true"
	}
	return info
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on outbound provider requests.
func UserAgent() string {
	return "FashionAgent/" + Version
}

// String is the one-line form logged at startup.
func String() string {
	commit, built, _ := vcsInfo()
	return fmt.Sprintf("fashion %s (%s) built %s", Version, commit, built)
}
