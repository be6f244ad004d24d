// Package version exposes build-time version information, set via -ldflags
// on release builds and recovered from debug build info otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time using -ldflags.
var (
	// Version is the semantic version of the binary
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "unknown"
)

// BuildInfo bundles everything the version command reports.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the resolved build information.
func Get() BuildInfo {
	return BuildInfo{
		Version:   resolveVersion(),
		Commit:    resolveCommit(),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Short returns a one-line version string for display.
func Short() string {
	v := resolveVersion()
	if commit := resolveCommit(); commit != "unknown" && len(commit) >= 7 {
		return fmt.Sprintf("%s (%s)", v, commit[:7])
	}
	return v
}

func resolveVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

func resolveCommit() string {
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}
	return "unknown"
}
