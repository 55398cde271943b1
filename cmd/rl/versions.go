package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/persist"
	"github.com/steveyegge/redline/internal/timeparsing"
	"github.com/steveyegge/redline/internal/ui"
)

var versionsCmd = &cobra.Command{
	Use:     "versions",
	GroupID: "docs",
	Short:   "List saved versions of the document",
	Long: `List snapshots of the document taken before each overwrite, newest first.

--since accepts compact durations (2h, 3d), dates (2025-01-20),
RFC3339 timestamps, or phrases like "yesterday" and "3 days ago".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		var cutoff time.Time
		if since != "" {
			t, err := timeparsing.ParseSince(since, time.Now())
			if err != nil {
				FatalError("invalid --since: %v", err)
			}
			cutoff = t
		}

		ctx := rootCtx
		list, err := getBackend(ctx).Versions(ctx)
		if err != nil {
			fail(err)
		}
		list = filterVersions(list, cutoff)

		if jsonOutput {
			outputJSON(list)
			return
		}
		if len(list) == 0 {
			fmt.Println(ui.RenderMuted("No saved versions"))
			return
		}
		for _, v := range list {
			fmt.Printf("%s  %s  %s\n", ui.RenderAccent(v.ID), v.Time.Local().Format("2006-01-02 15:04:05"), ui.RenderMuted(humanSize(v.Size)))
		}
	},
}

var versionsShowCmd = &cobra.Command{
	Use:   "show <version-id>",
	Short: "Print a saved version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := rootCtx
		data, err := getBackend(ctx).ReadVersion(ctx, args[0])
		if err != nil {
			fail(err)
		}
		_, _ = os.Stdout.Write(data)
	},
}

var versionsRestoreCmd = &cobra.Command{
	Use:   "restore <version-id>",
	Short: "Replace the document content with a saved version",
	Long: `Replace the document content with a saved version. The current content is
itself kept as a version by the next save.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := rootCtx
		doc, err := getBackend(ctx).RestoreVersion(ctx, args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(doc)
			return
		}
		fmt.Printf("%s Restored %s\n", ui.RenderPassIcon(), args[0])
	},
}

func init() {
	versionsCmd.Flags().String("since", "", "Only versions at or after this time")
	versionsCmd.AddCommand(versionsShowCmd, versionsRestoreCmd)
	rootCmd.AddCommand(versionsCmd)
}

func filterVersions(list []persist.Version, cutoff time.Time) []persist.Version {
	if cutoff.IsZero() {
		return list
	}
	out := list[:0:0]
	for _, v := range list {
		if !v.Time.Before(cutoff) {
			out = append(out, v)
		}
	}
	return out
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
