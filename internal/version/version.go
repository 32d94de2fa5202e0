// Package version exposes the build identity printed by the version
// command. Release builds stamp the variables through ldflags; everything
// else falls back to the module build info the Go toolchain embeds.
package version

import (
	"runtime"
	"runtime/debug"
)

// Stamped at link time; empty means "look at build info".
var (
	Version string
	Commit  string
	Date    string
)

// String renders the one-line identity, e.g.
// "echoes 1.4.0 (commit=0b1f3aa2c9d4, date=2026-08-01T10:02:11Z, go=go1.24.1)".
func String() string {
	return "echoes " + Number() + " (commit=" + CommitHash() + ", date=" + BuildDate() + ", go=" + runtime.Version() + ")"
}

// Number reports the release version, or "dev" for unstamped builds.
func Number() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}

// CommitHash reports the stamped commit, falling back to the VCS revision
// recorded in build info, shortened to twelve characters.
func CommitHash() string {
	if Commit != "" {
		return Commit
	}
	if revision, ok := buildSetting("vcs.revision"); ok {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		return revision
	}
	return "none"
}

// BuildDate reports the stamped build date or the VCS commit time.
func BuildDate() string {
	if Date != "" {
		return Date
	}
	if when, ok := buildSetting("vcs.time"); ok {
		return when
	}
	return "unknown"
}

func buildSetting(key string) (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == key && setting.Value != "" {
			return setting.Value, true
		}
	}
	return "", false
}
