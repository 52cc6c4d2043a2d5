// Package version holds build metadata injected via -ldflags.
package version

import (
	"log/slog"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/raicho81/fake-mixcloud-plays/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
}

// Get returns the current build info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
	}
}

// String returns "version (commit)", or just the version when the commit is unknown.
func (i Info) String() string {
	if i.Commit == "" || i.Commit == "unknown" {
		return i.Version
	}
	return i.Version + " (" + i.Commit + ")"
}

// LogValue lets Info be passed directly as a slog attribute.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Version),
		slog.String("commit", i.Commit),
		slog.String("date", i.Date),
		slog.String("go", i.GoVersion),
	)
}
