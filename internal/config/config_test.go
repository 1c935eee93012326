package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"difffuzz/internal/tools"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func noEnv(string) string { return "" }

func TestDefaults(t *testing.T) {
	cfg, err := Load(Options{StartDir: t.TempDir(), Getenv: noEnv})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != "" {
		t.Fatalf("unexpected source %q", cfg.Source)
	}
	if cfg.Target.Timeout.Duration != time.Minute || cfg.Run.Ext != ".wasm" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if !slices.Equal(cfg.Generator.Flags, tools.FlagsV1) {
		t.Fatalf("generator flags = %v", cfg.Generator.Flags)
	}
	cfg.Generator.Flags[0] = "--changed"
	if tools.FlagsV1[0] == "--changed" {
		t.Fatal("defaults alias FlagsV1")
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "[run]\njobs = 3\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	path, ok, err := Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find = %q, %v, %v", path, ok, err)
	}
	if filepath.Dir(path) != root {
		t.Fatalf("found %q, want file in %q", path, root)
	}
}

func TestFileValues(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), `
[target]
path = "bin/target"
timeout = "5s"

[generator]
command = ["smith-wrapper"]
seed_bytes = 64

[shrink]
enabled = false

[run]
jobs = 3
fail_dir = "out/fail"
`)
	cfg, err := Load(Options{StartDir: root, Getenv: noEnv})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target.Path != filepath.Join(root, "bin", "target") {
		t.Fatalf("target path = %q", cfg.Target.Path)
	}
	if cfg.Target.Timeout.Duration != 5*time.Second || cfg.Generator.SeedBytes != 64 || cfg.Run.Jobs != 3 {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.Shrink.Enabled {
		t.Fatal("shrink should be disabled")
	}
	if cfg.Run.FailDir != filepath.Join(root, "out", "fail") {
		t.Fatalf("fail dir = %q", cfg.Run.FailDir)
	}
	if cfg.Run.WorkDir != ".build/FuzzDifferential" {
		t.Fatalf("unset keys must keep defaults, work dir = %q", cfg.Run.WorkDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "[target]\ntimeout = \"5s\"\n[run]\njobs = 3\n")
	env := map[string]string{
		EnvTarget:    "/opt/target",
		EnvGenerator: "wasm-tools smith --fuel 10",
		EnvShrink:    "off",
		EnvTimeout:   "90s",
		EnvJobs:      "8",
	}
	cfg, err := Load(Options{StartDir: root, Getenv: func(k string) string { return env[k] }})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target.Path != "/opt/target" || cfg.Target.Timeout.Duration != 90*time.Second || cfg.Run.Jobs != 8 {
		t.Fatalf("config = %+v", cfg)
	}
	if !slices.Equal(cfg.Generator.Command, []string{"wasm-tools", "smith", "--fuel", "10"}) {
		t.Fatalf("generator = %v", cfg.Generator.Command)
	}
	if cfg.Shrink.Enabled {
		t.Fatal("DIFFFUZZ_SHRINK=off must disable shrinking")
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	writeFile(t, dotenv, EnvJobs+"=6\n")
	t.Setenv(EnvJobs, "")
	os.Unsetenv(EnvJobs)

	cfg, err := Load(Options{StartDir: dir, DotEnv: dotenv})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.Jobs != 6 {
		t.Fatalf("jobs = %d, want value from .env", cfg.Run.Jobs)
	}

	if _, err := Load(Options{StartDir: dir, DotEnv: filepath.Join(dir, "missing.env"), Getenv: noEnv}); err != nil {
		t.Fatalf("missing .env must be ignored: %v", err)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{"bad toml", "[target\n", nil, "failed to parse TOML"},
		{"unknown key", "[run]\nworkers = 2\n", nil, "unknown keys: run.workers"},
		{"bad duration", "[target]\ntimeout = \"soon\"\n", nil, "failed to parse TOML"},
		{"zero timeout", "[target]\ntimeout = \"0s\"\n", nil, "[target].timeout"},
		{"negative jobs", "[run]\njobs = -1\n", nil, "[run].jobs"},
		{"bad env jobs", "", map[string]string{EnvJobs: "many"}, EnvJobs},
		{"bad env timeout", "", map[string]string{EnvTimeout: "1 minute"}, EnvTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "custom.toml")
			writeFile(t, path, tt.file)
			cfg, err := Load(Options{Path: path, Getenv: func(k string) string { return tt.env[k] }})
			if err == nil {
				err = cfg.Validate()
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
