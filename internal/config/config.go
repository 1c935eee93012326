// Package config loads difffuzz.toml and applies environment overrides.
//
// Precedence, lowest first: built-in defaults, difffuzz.toml, DIFFFUZZ_*
// environment variables (a .env file in the working directory is loaded
// first), command line flags. Flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"difffuzz/internal/tools"
)

// FileName is the config file looked up from the working directory upwards.
const FileName = "difffuzz.toml"

// Environment variables that override file values.
const (
	EnvTarget    = "DIFFFUZZ_TARGET"
	EnvGenerator = "DIFFFUZZ_GENERATOR"
	EnvShrink    = "DIFFFUZZ_SHRINK"
	EnvTimeout   = "DIFFFUZZ_TIMEOUT"
	EnvJobs      = "DIFFFUZZ_JOBS"
)

// Duration is a time.Duration written as "60s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the resolved configuration.
type Config struct {
	Target    TargetConfig    `toml:"target"`
	Generator GeneratorConfig `toml:"generator"`
	Shrink    ShrinkConfig    `toml:"shrink"`
	Run       RunConfig       `toml:"run"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `toml:"-"`
}

type TargetConfig struct {
	Path    string   `toml:"path"`
	Timeout Duration `toml:"timeout"`
}

type GeneratorConfig struct {
	Command   []string `toml:"command"`
	Flags     []string `toml:"flags"`
	SeedBytes int      `toml:"seed_bytes"`
	Timeout   Duration `toml:"timeout"`
}

type ShrinkConfig struct {
	Enabled bool     `toml:"enabled"`
	Command []string `toml:"command"`
	Timeout Duration `toml:"timeout"`
}

type RunConfig struct {
	Jobs         int    `toml:"jobs"` // 0 means GOMAXPROCS
	FailDir      string `toml:"fail_dir"`
	WorkDir      string `toml:"work_dir"`
	Ext          string `toml:"ext"`
	Progress     string `toml:"progress"`
	LogEvery     int    `toml:"log_every"`
	RefreshEvery int    `toml:"refresh_every"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			Path:    ".build/debug/FuzzDifferential",
			Timeout: Duration{60 * time.Second},
		},
		Generator: GeneratorConfig{
			Command:   []string{"wasm-tools", "smith"},
			Flags:     slices.Clone(tools.FlagsV1),
			SeedBytes: 100,
		},
		Shrink: ShrinkConfig{
			Enabled: true,
			Command: []string{"wasm-tools", "shrink"},
		},
		Run: RunConfig{
			FailDir:      "FailCases/FuzzDifferential",
			WorkDir:      ".build/FuzzDifferential",
			Ext:          ".wasm",
			Progress:     "auto",
			LogEvery:     100,
			RefreshEvery: 40,
		},
	}
}

// Options controls Load.
type Options struct {
	// Path names the config file explicitly; it must exist.
	Path string
	// StartDir is where discovery starts when Path is empty. Defaults to ".".
	StartDir string
	// DotEnv is the .env file to load. Empty skips loading.
	DotEnv string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load resolves defaults, the config file and the environment. The result is
// not validated; callers apply their own overrides and then call Validate.
func Load(opts Options) (*Config, error) {
	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", opts.DotEnv, err)
		}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Default()
	path := opts.Path
	if path == "" {
		found, ok, err := Find(opts.StartDir)
		if err != nil {
			return nil, err
		}
		if ok {
			path = found
		}
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.Source = path
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func decodeFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	// Relative paths in the file are relative to the file.
	root := filepath.Dir(path)
	for _, key := range []struct {
		defined bool
		value   *string
	}{
		{meta.IsDefined("target", "path"), &cfg.Target.Path},
		{meta.IsDefined("run", "fail_dir"), &cfg.Run.FailDir},
		{meta.IsDefined("run", "work_dir"), &cfg.Run.WorkDir},
	} {
		if key.defined && *key.value != "" && !filepath.IsAbs(*key.value) {
			*key.value = filepath.Join(root, filepath.FromSlash(*key.value))
		}
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvTarget)); v != "" {
		cfg.Target.Path = v
	}
	if v := strings.TrimSpace(getenv(EnvGenerator)); v != "" {
		cfg.Generator.Command = strings.Fields(v)
	}
	if v := strings.TrimSpace(getenv(EnvShrink)); v != "" {
		switch strings.ToLower(v) {
		case "off", "false", "0", "none":
			cfg.Shrink.Enabled = false
		default:
			cfg.Shrink.Enabled = true
			cfg.Shrink.Command = strings.Fields(v)
		}
	}
	if v := strings.TrimSpace(getenv(EnvTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Target.Timeout = Duration{d}
	}
	if v := strings.TrimSpace(getenv(EnvJobs)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvJobs, err)
		}
		cfg.Run.Jobs = n
	}
	return nil
}

// Validate checks the resolved values. Errors name the file and key.
func (c *Config) Validate() error {
	prefix := "config"
	if c.Source != "" {
		prefix = c.Source
	}
	switch {
	case strings.TrimSpace(c.Target.Path) == "":
		return fmt.Errorf("%s: [target].path is empty", prefix)
	case c.Target.Timeout.Duration <= 0:
		return fmt.Errorf("%s: [target].timeout must be positive", prefix)
	case len(c.Generator.Command) == 0:
		return fmt.Errorf("%s: [generator].command is empty", prefix)
	case c.Generator.SeedBytes <= 0:
		return fmt.Errorf("%s: [generator].seed_bytes must be positive", prefix)
	case c.Shrink.Enabled && len(c.Shrink.Command) == 0:
		return fmt.Errorf("%s: [shrink].command is empty", prefix)
	case c.Run.Jobs < 0:
		return fmt.Errorf("%s: [run].jobs must not be negative", prefix)
	case c.Run.FailDir == "":
		return fmt.Errorf("%s: [run].fail_dir is empty", prefix)
	case c.Run.WorkDir == "":
		return fmt.Errorf("%s: [run].work_dir is empty", prefix)
	case c.Run.LogEvery <= 0:
		return fmt.Errorf("%s: [run].log_every must be positive", prefix)
	case c.Run.RefreshEvery <= 0:
		return fmt.Errorf("%s: [run].refresh_every must be positive", prefix)
	}
	return nil
}
