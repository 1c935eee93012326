package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"difffuzz/internal/config"
)

// loadSettings resolves the config file and environment, then applies the
// flags the user set explicitly on cmd.
func loadSettings(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(config.Options{Path: path, DotEnv: ".env"})
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, args []string) error {
	if len(args) > 0 && args[0] != "" {
		cfg.Target.Path = args[0]
	}
	flags := cmd.Flags()
	if f := flags.Lookup("timeout"); f != nil && f.Changed {
		d, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Target.Timeout = config.Duration{Duration: d}
	}
	if f := flags.Lookup("jobs"); f != nil && f.Changed {
		n, err := flags.GetInt("jobs")
		if err != nil {
			return err
		}
		cfg.Run.Jobs = n
	}
	if f := flags.Lookup("no-shrink"); f != nil && f.Changed {
		off, err := flags.GetBool("no-shrink")
		if err != nil {
			return err
		}
		cfg.Shrink.Enabled = !off
	}
	if f := flags.Lookup("progress"); f != nil && f.Changed {
		mode, err := flags.GetString("progress")
		if err != nil {
			return err
		}
		cfg.Run.Progress = mode
	}
	return nil
}

func effectiveJobs(cfg *config.Config) int {
	if cfg.Run.Jobs > 0 {
		return cfg.Run.Jobs
	}
	return runtime.GOMAXPROCS(0)
}
