package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/config"
	"github.com/steveyegge/redline/internal/ui"
)

// setupSignalContext creates a context that cancels on SIGINT/SIGTERM for
// graceful shutdown of long-running operations.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyViperOverrides merges config values (file + env) into flags that were
// not set on the command line. Priority: flags > config > defaults.
func applyViperOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("json") {
		jsonOutput = config.GetBool("json")
	}
	if !flags.Changed("verbose") {
		verboseFlag = config.GetBool("verbose")
	}
	if !flags.Changed("quiet") {
		quietFlag = config.GetBool("quiet")
	}
	if !flags.Changed("actor") {
		actor = config.GetString("actor")
	}
	if !flags.Changed("token") {
		token = config.GetString("token")
	}
	if !flags.Changed("file") && docPath == "" {
		docPath = config.GetString("file")
	}
	if flags.Changed("state-dir") {
		config.Set("state-dir", stateDir)
	}
	stateDir = config.StateDir()
	if actor == "" {
		actor = os.Getenv("USER")
	}
}

// setupLogger routes structured logs to stderr. Quiet drops everything below
// errors; verbose enables debug.
func setupLogger() {
	level := slog.LevelWarn
	switch {
	case quietFlag:
		level = slog.LevelError
	case verboseFlag:
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func setupColor() {
	if jsonOutput {
		return
	}
	ui.ConfigureColor()
}
