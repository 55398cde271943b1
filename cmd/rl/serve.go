package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/redline/internal/api"
	"github.com/steveyegge/redline/internal/config"
	"github.com/steveyegge/redline/internal/eventbus"
	"github.com/steveyegge/redline/internal/lockfile"
	"github.com/steveyegge/redline/internal/session"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/telemetry"
	"github.com/steveyegge/redline/internal/ui"
	"github.com/steveyegge/redline/internal/watch"
)

const serverProbeTimeout = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve [path]",
	GroupID: "setup",
	Short:   "Hold a document and serve the agent API and live sessions",
	Long: `Start the document server. It owns one document at a time, accepts change
requests over HTTP, pushes updates to live editing sessions over a websocket,
saves on a debounce, and reloads the file when it changes on disk.

Without a path the server starts on a new temporary document.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listen, _ := cmd.Flags().GetString("listen")
		if !cmd.Flags().Changed("listen") {
			listen = config.GetString("listen")
		}
		allowRemote, _ := cmd.Flags().GetBool("allow-remote")
		if !cmd.Flags().Changed("allow-remote") {
			allowRemote = config.GetBool("allow-remote")
		}
		path := docPath
		if len(args) > 0 {
			path = args[0]
		}

		if err := runServe(rootCtx, serveOptions{
			Listen:      listen,
			AllowRemote: allowRemote,
			Path:        path,
		}); err != nil {
			fail(err)
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:7878", "Address to listen on")
	serveCmd.Flags().Bool("allow-remote", false, "Allow listening on non-loopback addresses")
	rootCmd.AddCommand(serveCmd)
}

type serveOptions struct {
	Listen      string
	AllowRemote bool
	Path        string
}

func runServe(ctx context.Context, opts serveOptions) error {
	if _, err := api.DetermineAccess(opts.Listen, opts.AllowRemote); err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	lock, err := lockfile.Acquire(stateDir, lockfile.LockInfo{Addr: opts.Listen, Version: Version})
	if errors.Is(err, lockfile.ErrLockBusy) {
		info, _ := lockfile.ReadLockInfo(stateDir)
		if info != nil {
			return fmt.Errorf("rl serve already running (pid %d, %s)", info.PID, info.Addr)
		}
	}
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if err := telemetry.Init(ctx, "rl", Version, telemetry.Options{
		Enabled:  config.GetBool("telemetry.enabled"),
		Stdout:   config.GetBool("telemetry.stdout"),
		Endpoint: config.GetString("telemetry.endpoint"),
		Interval: config.GetDuration("telemetry.interval"),
	}); err != nil {
		WarnError("telemetry disabled: %v", err)
	}
	defer telemetry.Shutdown(context.Background())

	bus := eventbus.New(logger)
	for _, h := range eventbus.DefaultHandlers(logger) {
		bus.Register(h)
	}
	hooks, err := config.Hooks()
	if err != nil {
		return err
	}
	for _, h := range eventbus.ExternalHandlers(hooks) {
		bus.Register(h)
	}

	st := store.New(storeOptions(bus, telemetry.NewInstruments()))
	defer func() { _ = st.Close() }()

	hub := session.NewHub(st, session.Options{Logger: logger})
	bus.Register(hub.Handler())

	watcher, err := watch.New(st, watch.Options{Delay: config.GetDuration("watch-delay"), Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	bus.Register(watcher.Handler())

	bus.Register(eventbus.Func("serve-lock", 90, func(_ context.Context, ev *eventbus.Event) error {
		return lock.SetDocument(ev.Path)
	}, eventbus.EventDocumentOpened))

	switch {
	case opts.Path == "":
		_, err = st.NewTemp(ctx, "")
	case fileExists(opts.Path):
		_, err = st.Open(ctx, opts.Path)
	default:
		_, err = st.Create(ctx, opts.Path, "")
	}
	if err != nil {
		return err
	}

	srv := api.NewServer(st, api.Config{
		Addr:         opts.Listen,
		Token:        token,
		Sessions:     hub,
		SessionCount: hub.Count,
		Version:      Version,
		Logger:       logger,
	})
	if err := srv.Listen(); err != nil {
		return err
	}
	if err := lock.SetAddr(srv.Addr()); err != nil {
		return err
	}

	if !quietFlag && !jsonOutput {
		fmt.Printf("%s Serving %s on http://%s\n", ui.RenderPassIcon(), displayPath(st.Path()), srv.Addr())
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop"))
	}
	if jsonOutput {
		outputJSON(lock.Info())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	err = g.Wait()

	if _, saveErr := st.Save(context.Background()); saveErr != nil && !errors.Is(saveErr, store.ErrNoPath) {
		logger.Error("final save failed", "error", saveErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
