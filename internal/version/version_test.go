package version

import (
	"runtime/debug"
	"testing"
)

func TestVersion_DefaultValues(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
}

func TestRead_UsesOverrides(t *testing.T) {
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() {
		Version, GitCommit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "1.2.3"
	GitCommit = "abc123def456"
	BuildDate = "2024-01-15T10:30:00Z"

	info := Read()
	if info.Version != "1.2.3" || info.GitCommit != "abc123def456" || info.BuildDate != "2024-01-15T10:30:00Z" {
		t.Fatalf("Read() = %+v", info)
	}
}

func TestFill_FromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.25.1",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeef"},
			{Key: "vcs.time", Value: "2025-02-01T00:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	info := fill(Info{Version: "0.1.0"}, bi)
	if info.GitCommit != "deadbeef" || info.BuildDate != "2025-02-01T00:00:00Z" || !info.Modified || info.GoVersion != "go1.25.1" {
		t.Fatalf("fill = %+v", info)
	}

	info = fill(Info{GitCommit: "fromldflags"}, bi)
	if info.GitCommit != "fromldflags" {
		t.Fatalf("ldflags commit must win, got %q", info.GitCommit)
	}
}
