package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/config"
)

var (
	docPath    string
	actor      string
	token      string
	stateDir   string
	jsonOutput bool
	directMode bool

	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	logger = slog.New(slog.DiscardHandler)

	// backend opened by commands that touch the document; closed in PersistentPostRun
	activeBackend backend
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVarP(&docPath, "file", "f", "", "Document to operate on (default: the document held by rl serve)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor recorded on events (default: $REDLINE_ACTOR, $USER)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for the server API")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for serve.lock, versions and temp documents")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&directMode, "direct", false, "Edit the file directly even when rl serve is running")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "changes", Title: "Proposing Changes:"})
	rootCmd.AddGroup(&cobra.Group{ID: "review", Title: "Reviewing Changes:"})
	rootCmd.AddGroup(&cobra.Group{ID: "docs", Title: "Documents & History:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Server & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "rl - pending-change review for Markdown documents",
	Long: `Agents propose inserts, rewrites and deletions against a Markdown document.
Every change stays pending until a person accepts or rejects it.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("rl version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyViperOverrides(cmd)
		setupLogger()
		setupColor()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeBackend()
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		closeBackend()
		os.Exit(1)
	}
}
