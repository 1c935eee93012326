package main

import (
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/term"

	"difffuzz/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "difffuzz [target]",
	Short: "Differential fuzzing driver",
	Long: `difffuzz generates random inputs, runs the target on each of them and keeps
every input that makes the target fail or hang. Crashes are shrunk and
deduplicated by content before they are archived.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runFuzz,
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to difffuzz.toml (default: search upwards from the working directory)")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("log-file", "", "write logs to this file instead of stderr")
	pf.String("trace", "", "trace output file (- for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|cycle|tool)")
	pf.String("trace-mode", "ring", "trace storage (stream|ring)")
	pf.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	pf.String("cpu-profile", "", "write a CPU profile to this file")
	pf.String("mem-profile", "", "write a heap profile to this file on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace to this file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		mode, err := cmd.Flags().GetString("color")
		if err != nil {
			return err
		}
		return applyColorMode(mode)
	}
}

// main executes the root command. Any returned error exits with status 1.
func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("error:", err)
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
