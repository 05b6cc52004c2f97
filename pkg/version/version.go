package version

import (
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

// Set at link time, e.g.
// -X 'github.com/compozy/ragpipe/pkg/version.Version=v0.3.0'
var (
	Version    = unknown
	CommitHash = unknown
	BuildDate  = unknown
)

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
}

// Get prefers link-time values and fills the rest from the module build
// info that `go install` and `go build` embed.
func Get() Info {
	info := Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.CommitHash == unknown:
			info.CommitHash = s.Value
		case s.Key == "vcs.time" && info.BuildDate == unknown:
			info.BuildDate = s.Value
		}
	}
	return info
}

func GetVersion() string {
	return Get().Version
}
