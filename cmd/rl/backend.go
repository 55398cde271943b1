package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/steveyegge/redline/internal/api"
	"github.com/steveyegge/redline/internal/config"
	"github.com/steveyegge/redline/internal/eventbus"
	"github.com/steveyegge/redline/internal/lockfile"
	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/persist"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/telemetry"
	"github.com/steveyegge/redline/internal/types"
)

// backend is what document commands talk to: the running server when there
// is one, otherwise the file itself.
type backend interface {
	Document(ctx context.Context) (*types.Document, error)
	Status(ctx context.Context) (*store.Status, error)
	ApplyChanges(ctx context.Context, reqs []types.ChangeRequest) (*types.BatchResult, error)
	ApplyTextEdits(ctx context.Context, nodeID string, edits []types.TextEdit) (*types.TextEditResult, error)
	Pending(ctx context.Context) ([]types.PendingNode, error)
	Accept(ctx context.Context, id string) (int, error)
	Reject(ctx context.Context, id string) (int, error)
	AcceptAll(ctx context.Context) (int, error)
	RejectAll(ctx context.Context) (int, error)
	Open(ctx context.Context, req api.OpenRequest) (*types.Document, error)
	Save(ctx context.Context) (string, error)
	Versions(ctx context.Context) ([]persist.Version, error)
	ReadVersion(ctx context.Context, id string) ([]byte, error)
	RestoreVersion(ctx context.Context, id string) (*types.Document, error)
	Close() error
}

// remoteBackend forwards to rl serve.
type remoteBackend struct {
	*api.Client
}

func (remoteBackend) Close() error { return nil }

// directBackend edits the file in-process. Mutations are saved on Close.
type directBackend struct {
	st     *store.Store
	origin string
}

func (d *directBackend) Document(context.Context) (*types.Document, error) {
	return d.st.Document(), nil
}

func (d *directBackend) Status(context.Context) (*store.Status, error) {
	s := d.st.Status()
	return &s, nil
}

func (d *directBackend) ApplyChanges(ctx context.Context, reqs []types.ChangeRequest) (*types.BatchResult, error) {
	return d.st.ApplyChanges(ctx, reqs)
}

func (d *directBackend) ApplyTextEdits(ctx context.Context, nodeID string, edits []types.TextEdit) (*types.TextEditResult, error) {
	return d.st.ApplyTextEdits(ctx, nodeID, edits)
}

func (d *directBackend) Pending(context.Context) ([]types.PendingNode, error) {
	return d.st.Pending(), nil
}

func (d *directBackend) Accept(ctx context.Context, id string) (int, error) {
	return d.st.Accept(ctx, d.origin, id)
}

func (d *directBackend) Reject(ctx context.Context, id string) (int, error) {
	return d.st.Reject(ctx, d.origin, id)
}

func (d *directBackend) AcceptAll(ctx context.Context) (int, error) {
	return d.st.AcceptAll(ctx, d.origin), nil
}

func (d *directBackend) RejectAll(ctx context.Context) (int, error) {
	return d.st.RejectAll(ctx, d.origin), nil
}

func (d *directBackend) Open(ctx context.Context, req api.OpenRequest) (*types.Document, error) {
	switch {
	case req.Temp:
		return d.st.NewTemp(ctx, req.Title)
	case req.Create:
		return d.st.Create(ctx, req.Path, req.Title)
	default:
		return d.st.Open(ctx, req.Path)
	}
}

func (d *directBackend) Save(ctx context.Context) (string, error) {
	outcome, err := d.st.Save(ctx)
	return outcome.String(), err
}

func (d *directBackend) Versions(context.Context) ([]persist.Version, error) {
	return d.st.Versions()
}

func (d *directBackend) ReadVersion(_ context.Context, id string) ([]byte, error) {
	return d.st.ReadVersion(id)
}

func (d *directBackend) RestoreVersion(ctx context.Context, id string) (*types.Document, error) {
	if err := d.st.RestoreVersion(ctx, id); err != nil {
		return nil, err
	}
	return d.st.Document(), nil
}

// Close saves outstanding edits and stops the store.
func (d *directBackend) Close() error {
	if d.st.Status().Dirty && d.st.Path() != "" {
		if _, err := d.st.Save(context.Background()); err != nil {
			_ = d.st.Close()
			return err
		}
	}
	return d.st.Close()
}

// storeOptions builds store settings from config. Shared by direct mode and
// rl serve.
func storeOptions(bus *eventbus.Bus, ins *telemetry.Instruments) store.Options {
	return store.Options{
		Dir:             stateDir,
		Frontmatter:     mdstore.ParseFormat(config.GetString("frontmatter")),
		LockWindow:      config.GetDuration("lock-window"),
		FlushDebounce:   config.GetDuration("flush-debounce"),
		DuplicateWindow: config.GetInt("duplicate-window"),
		Guard: &persist.ShrinkGuard{
			MinBytes: config.GetInt("shrink-guard.min-bytes"),
			Ratio:    config.GetFloat64("shrink-guard.ratio"),
		},
		MaxVersions: config.GetInt("versions.max"),
		Bus:         bus,
		Logger:      logger,
		Instruments: ins,
	}
}

// connectServer returns a client for the server recorded in the state dir,
// or nil.
func connectServer(ctx context.Context) *api.Client {
	info, running := lockfile.Probe(stateDir)
	if !running || info.Addr == "" {
		return nil
	}
	c, err := api.TryConnect(ctx, info.Addr, token, serverProbeTimeout)
	if err != nil {
		logger.Debug("server lock held but not answering", "addr", info.Addr, "error", err)
		return nil
	}
	c.SetActor(actor)
	return c
}

// getBackend picks the server or direct mode for this command. With a server
// running, --file must name the server's document unless --direct is given.
func getBackend(ctx context.Context) backend {
	if activeBackend != nil {
		return activeBackend
	}

	if !directMode {
		if c := connectServer(ctx); c != nil {
			if docPath != "" {
				st, err := c.Status(ctx)
				if err != nil {
					fail(err)
				}
				if !samePath(st.Path, docPath) {
					FatalErrorWithHint(
						fmt.Sprintf("rl serve is editing %s, not %s", displayPath(st.Path), docPath),
						"Run 'rl open "+docPath+"' to switch it, or pass --direct")
				}
			}
			activeBackend = remoteBackend{c}
			return activeBackend
		}
	}

	if docPath == "" {
		FatalErrorWithHint("no document", "Pass --file <path>, or start 'rl serve <path>'")
	}
	st := store.New(storeOptions(nil, nil))
	if _, err := st.Open(ctx, docPath); err != nil {
		_ = st.Close()
		fail(err)
	}
	activeBackend = &directBackend{st: st, origin: store.OriginCLI}
	return activeBackend
}

func closeBackend() {
	if activeBackend == nil {
		return
	}
	b := activeBackend
	activeBackend = nil
	if err := b.Close(); err != nil {
		WarnError("failed to save document: %v", err)
	}
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return filepath.Clean(aa) == filepath.Clean(bb)
}

func displayPath(p string) string {
	if p == "" {
		return "an unsaved document"
	}
	return p
}
