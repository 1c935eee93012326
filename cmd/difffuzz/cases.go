package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"difffuzz/internal/archive"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "List archived failing inputs",
	Args:  cobra.NoArgs,
	RunE:  runCases,
}

func init() {
	casesCmd.Flags().BoolP("watch", "w", false, "keep running and print new artifacts as they are archived")
}

func runCases(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd, nil)
	if err != nil {
		return err
	}
	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return fmt.Errorf("failed to get watch flag: %w", err)
	}

	dir := cfg.Run.FailDir
	records, err := archive.LoadIndex(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 && !watch {
		fmt.Fprintf(out, "no archived cases in %s\n", dir)
		return nil
	}
	if err := renderCases(out, dir, records); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	paths, err := archive.Watch(ctx, dir, cfg.Run.Ext)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s for new cases (ctrl+c to stop)\n", dir)
	for path := range paths {
		fmt.Fprintf(out, "%s  new  %s\n", time.Now().Format("15:04:05"), path)
	}
	return nil
}

func renderCases(out io.Writer, dir string, records []archive.Record) error {
	p := message.NewPrinter(language.English)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tHITS\tSIZE\tSHRUNK\tFIRST SEEN\tPATH")
	var hits uint64
	for _, rec := range records {
		id := rec.ID
		if len(id) > 12 {
			id = id[:12]
		}
		hits += rec.Hits
		p.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\t%s\n",
			rec.Kind, id, rec.Hits, rec.Size, rec.Shrunk,
			rec.FirstSeen.Local().Format(time.DateTime), filepath.Join(dir, rec.Name))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := p.Fprintf(out, "%d cases, %d hits\n", len(records), hits)
	return err
}
