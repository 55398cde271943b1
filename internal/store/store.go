// Package store owns the authoritative document and serializes every mutation
// of it: agent change batches, text edits, pending resolution, live-session
// snapshots, and document switching. Mutations run synchronously under one
// mutex; persistence is debounced and happens off the caller's path.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/steveyegge/redline/internal/applier"
	"github.com/steveyegge/redline/internal/eventbus"
	"github.com/steveyegge/redline/internal/idgen"
	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/pending"
	"github.com/steveyegge/redline/internal/persist"
	"github.com/steveyegge/redline/internal/reconcile"
	"github.com/steveyegge/redline/internal/telemetry"
	"github.com/steveyegge/redline/internal/textedit"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// Origins recorded on events.
const (
	OriginAgent = "agent"
	OriginCLI   = "cli"
	OriginWatch = "watch"
)

var (
	// ErrNoPath is returned by Save for a document that was never given a file.
	ErrNoPath = errors.New("document has no path")

	// ErrExists is returned by Create when the target file already exists.
	ErrExists = errors.New("document already exists")
)

// Options configures a Store. Zero values select defaults.
type Options struct {
	// Dir holds versions/ and temp/. Defaults to <os temp dir>/redline.
	Dir             string
	Frontmatter     mdstore.Format
	LockWindow      time.Duration
	FlushDebounce   time.Duration
	DuplicateWindow int
	// Guard is the shrink guard; nil selects persist.DefaultShrinkGuard.
	Guard       *persist.ShrinkGuard
	MaxVersions int
	IDs         idgen.Generator
	Bus         *eventbus.Bus
	Logger      *slog.Logger
	Now         func() time.Time
	Instruments *telemetry.Instruments
}

// Store is the single authoritative document plus everything that mutates it.
type Store struct {
	mu          sync.Mutex
	doc         *types.Document
	format      mdstore.Format
	lastWritten []byte
	dirty       bool

	dir      string
	ids      idgen.Generator
	applier  *applier.Applier
	lock     *reconcile.WriteLock
	flush    *persist.Coordinator
	writer   *persist.Writer
	versions *persist.Versions
	bus      *eventbus.Bus
	log      *slog.Logger
	ins      *telemetry.Instruments
}

// New returns a store holding an empty, unsaved document. Call Close to stop
// the flush coordinator.
func New(opts Options) *Store {
	s := &Store{
		dir:    opts.Dir,
		ids:    opts.IDs,
		format: opts.Frontmatter,
		bus:    opts.Bus,
		log:    opts.Logger,
		ins:    opts.Instruments,
	}
	if s.dir == "" {
		s.dir = filepath.Join(os.TempDir(), "redline")
	}
	if s.ids == nil {
		s.ids = idgen.Random{}
	}
	if s.format == "" {
		s.format = mdstore.FormatYAML
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.ins == nil {
		s.ins = telemetry.NewInstruments()
	}
	guard := persist.DefaultShrinkGuard
	if opts.Guard != nil {
		guard = *opts.Guard
	}

	s.doc = types.NewDocument(idgen.NewDocID())
	s.applier = applier.New(applier.Options{IDs: s.ids, DuplicateWindow: opts.DuplicateWindow})
	s.lock = reconcile.NewWriteLock(opts.LockWindow, opts.Now)
	s.versions = persist.NewVersions(filepath.Join(s.dir, "versions"), opts.MaxVersions)
	s.writer = &persist.Writer{Guard: guard, Versions: s.versions, Logger: s.log}
	s.flush = persist.NewCoordinator(persist.CoordinatorOptions{
		Debounce: opts.FlushDebounce,
		Flush:    s.flushScheduled,
		Logger:   s.log,
	})
	return s
}

// Close flushes pending writes and stops the flush coordinator.
func (s *Store) Close() error {
	return s.flush.Shutdown()
}

// Document returns a deep copy of the current document.
func (s *Store) Document() *types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDoc(s.doc)
}

// Status summarizes the store for health checks and the CLI.
type Status struct {
	DocID         string        `json:"docId"`
	Title         string        `json:"title,omitempty"`
	Path          string        `json:"path,omitempty"`
	IsTemp        bool          `json:"isTemp,omitempty"`
	Blocks        int           `json:"blocks"`
	Pending       int           `json:"pending"`
	Dirty         bool          `json:"dirty"`
	LockHeld      bool          `json:"lockHeld"`
	LockRemaining time.Duration `json:"lockRemaining"`
}

// Status reports the current document and lock state.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		DocID:         s.doc.DocID,
		Title:         s.doc.Title,
		Path:          s.doc.Path,
		IsTemp:        s.doc.IsTemp,
		Blocks:        len(tree.IDs(s.doc.Root)),
		Pending:       len(pending.IDs(s.doc.Root)),
		Dirty:         s.dirty,
		LockHeld:      s.lock.Held(),
		LockRemaining: s.lock.Remaining(),
	}
}

// ApplyChanges applies an agent's change batch. Requests are applied in order
// and independently; failures are reported per request and counted as
// skipped. Any applied request stamps the write lock and schedules a save.
func (s *Store) ApplyChanges(ctx context.Context, reqs []types.ChangeRequest) (*types.BatchResult, error) {
	ctx, span, start := s.ins.Op(ctx, "ApplyChanges", attribute.Int("rl.requests", len(reqs)))

	s.mu.Lock()
	res := s.applier.Apply(s.doc.Root, reqs)
	var ev *eventbus.Event
	if res.AppliedCount > 0 {
		s.lock.Stamp()
		s.markDirtyLocked()
		ev = s.eventLocked(eventbus.EventChangesApplied, OriginAgent)
		ev.Changes = res.Changes
		ev.Applied, ev.Skipped = res.AppliedCount, res.SkippedCount
	}
	s.mu.Unlock()

	for _, c := range res.Changes {
		if c.Error != "" {
			s.log.Debug("change skipped", "operation", c.Operation, "node", c.NodeID, "after", c.AfterNodeID, "error", c.Error)
		}
	}
	s.ins.Changes(ctx, res.AppliedCount, res.SkippedCount)
	s.emit(ctx, ev)
	s.ins.Done(ctx, span, start, nil)
	return res, nil
}

// ApplyTextEdits applies find/replace and mark edits to one block. The block
// becomes a pending rewrite whose baseline is its content before the first
// pending edit.
func (s *Store) ApplyTextEdits(ctx context.Context, nodeID string, edits []types.TextEdit) (*types.TextEditResult, error) {
	ctx, span, start := s.ins.Op(ctx, "ApplyTextEdits", attribute.String("rl.node", nodeID), attribute.Int("rl.edits", len(edits)))
	out, ev, err := s.applyTextEdits(nodeID, edits)
	if err == nil {
		s.ins.Changes(ctx, 1, 0)
	}
	s.emit(ctx, ev)
	s.ins.Done(ctx, span, start, err)
	return out, err
}

func (s *Store) applyTextEdits(nodeID string, edits []types.TextEdit) (*types.TextEditResult, *eventbus.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := tree.Lookup(s.doc.Root, nodeID)
	if n == nil {
		return nil, nil, fmt.Errorf("text edits on %q: %w", nodeID, types.ErrNodeNotFound)
	}
	res, err := textedit.Apply(n, edits)
	if err != nil {
		out := &types.TextEditResult{NodeID: nodeID}
		for _, e := range edits {
			out.Missed = append(out.Missed, e.Find)
		}
		return out, nil, err
	}

	change, err := s.applier.RewriteWithTextEdits(s.doc.Root, nodeID, res.Node, res.Ranges)
	if err != nil {
		return nil, nil, err
	}
	s.lock.Stamp()
	s.markDirtyLocked()

	ev := s.eventLocked(eventbus.EventChangesApplied, OriginAgent)
	ev.Changes = []types.ChangeResult{change}
	ev.Applied = 1
	return &types.TextEditResult{
		NodeID:  nodeID,
		Applied: res.Applied,
		Missed:  res.Missed,
		Ranges:  res.Ranges,
		Change:  &change,
	}, ev, nil
}

// Accept keeps the pending change on id (a leaf or a container of pending
// leaves). It returns the number of leaves resolved.
func (s *Store) Accept(ctx context.Context, origin, id string) (int, error) {
	return s.resolve(ctx, origin, eventbus.ActionAccept, id, pending.Accept)
}

// Reject rolls back the pending change on id.
func (s *Store) Reject(ctx context.Context, origin, id string) (int, error) {
	return s.resolve(ctx, origin, eventbus.ActionReject, id, pending.Reject)
}

// AcceptAll accepts every pending leaf in reverse document order.
func (s *Store) AcceptAll(ctx context.Context, origin string) int {
	n, _ := s.resolve(ctx, origin, eventbus.ActionAccept, "", func(root *types.Node, _ string) (int, error) {
		return pending.AcceptAll(root), nil
	})
	return n
}

// RejectAll rejects every pending leaf in reverse document order.
func (s *Store) RejectAll(ctx context.Context, origin string) int {
	n, _ := s.resolve(ctx, origin, eventbus.ActionReject, "", func(root *types.Node, _ string) (int, error) {
		return pending.RejectAll(root), nil
	})
	return n
}

func (s *Store) resolve(ctx context.Context, origin, action, id string, fn func(*types.Node, string) (int, error)) (int, error) {
	ctx, span, start := s.ins.Op(ctx, action, attribute.String("rl.node", id))

	s.mu.Lock()
	n, err := fn(s.doc.Root, id)
	var ev *eventbus.Event
	if err == nil && n > 0 {
		// A session snapshot taken before the resolution must not bring
		// rejected content back.
		s.lock.Stamp()
		s.markDirtyLocked()
		ev = s.eventLocked(eventbus.EventPendingResolved, origin)
		ev.Action = action
		ev.Resolved = n
		if id != "" {
			ev.NodeIDs = []string{id}
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.ins.Resolved(ctx, action, n)
	}
	s.emit(ctx, ev)
	s.ins.Done(ctx, span, start, err)
	return n, err
}

// Pending lists pending leaf blocks in document order.
func (s *Store) Pending() []types.PendingNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pending.List(s.doc.Root)
}

// ApplySnapshot replaces the document with a live session's copy. Inside the
// write-lock window the snapshot is dropped and false is returned. Otherwise
// the store's pending state is transplanted onto the snapshot by id, blocks
// without ids get fresh ones, and the snapshot becomes the document.
func (s *Store) ApplySnapshot(ctx context.Context, sessionID string, root *types.Node) (bool, error) {
	ctx, span, start := s.ins.Op(ctx, "ApplySnapshot", attribute.String("rl.session", sessionID))
	applied, ev, err := s.applySnapshot(sessionID, root)
	if err == nil && !applied {
		s.ins.SessionDropped(ctx)
	}
	s.emit(ctx, ev)
	s.ins.Done(ctx, span, start, err)
	return applied, err
}

func (s *Store) applySnapshot(sessionID string, root *types.Node) (bool, *eventbus.Event, error) {
	if root == nil || root.Type != types.TypeDoc {
		return false, nil, fmt.Errorf("snapshot root must be a doc node: %w", types.ErrMalformedChange)
	}
	if err := root.Validate(); err != nil {
		return false, nil, fmt.Errorf("snapshot: %v: %w", err, types.ErrMalformedChange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock.Held() {
		ev := s.eventLocked(eventbus.EventSnapshotDropped, sessionID)
		ev.Document = nil
		ev.Reason = fmt.Sprintf("write lock held for another %s", s.lock.Remaining().Round(time.Millisecond))
		return false, ev, nil
	}

	incoming := tree.Clone(root)
	rep := reconcile.Transplant(s.doc.Root, incoming)
	assigned := applier.EnsureIDs(incoming, s.ids)
	if len(rep.Lost) > 0 {
		s.log.Debug("pending state lost on snapshot", "session", sessionID, "ids", rep.Lost)
	}
	if tree.Equal(s.doc.Root, incoming) {
		return true, nil, nil
	}
	s.doc.Root = incoming
	s.markDirtyLocked()
	ev := s.eventLocked(eventbus.EventDocumentReplaced, sessionID)
	ev.AssignedIDs = assigned
	return true, ev, nil
}

// Save writes the document now, cancelling any scheduled write.
func (s *Store) Save(ctx context.Context) (persist.Outcome, error) {
	s.flush.Cancel()
	return s.persist(ctx)
}

// flushScheduled is the coordinator's flush callback.
func (s *Store) flushScheduled(ctx context.Context) error {
	_, err := s.persist(ctx)
	if errors.Is(err, ErrNoPath) {
		return nil
	}
	return err
}

func (s *Store) persist(ctx context.Context) (persist.Outcome, error) {
	s.mu.Lock()
	path, docID := s.doc.Path, s.doc.DocID
	if path == "" {
		s.mu.Unlock()
		return persist.SkippedIdentical, ErrNoPath
	}
	data, err := mdstore.Encode(s.doc, mdstore.Options{Format: s.format})
	hasPending := tree.HasPending(s.doc.Root)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", docID, err)
	}

	ctx, span, start := s.ins.Op(ctx, "Save", attribute.String("rl.doc", docID))
	outcome, err := s.writer.Write(ctx, path, docID, data, hasPending)
	s.ins.Done(ctx, span, start, err)
	if err == nil || outcome == persist.Blocked {
		s.ins.Write(ctx, outcome.String())
	}

	var ev *eventbus.Event
	s.mu.Lock()
	switch {
	case err == nil:
		// Only clear dirty if nothing was switched in meanwhile.
		if s.doc.DocID == docID {
			s.lastWritten = data
			s.dirty = false
		}
		if outcome == persist.Written {
			ev = &eventbus.Event{Type: eventbus.EventDocumentSaved, DocID: docID, Path: path}
		}
	case outcome == persist.Blocked:
		ev = &eventbus.Event{Type: eventbus.EventPersistBlocked, DocID: docID, Path: path, Reason: err.Error()}
	default:
		s.log.Error("save failed", "doc", docID, "path", path, "error", err)
	}
	s.mu.Unlock()

	s.emit(ctx, ev)
	return outcome, err
}

// Open switches to the document at path. The scheduled write of the current
// document is cancelled and replaced by an explicit save first.
func (s *Store) Open(ctx context.Context, path string) (*types.Document, error) {
	res, err := mdstore.Load(path, mdstore.Options{IDs: s.ids, Logger: s.log, Format: s.format})
	if err != nil {
		return nil, err
	}
	if res.Synthesized > 0 || res.LostPending > 0 {
		s.log.Debug("document repaired on load", "path", path, "new_ids", res.Synthesized, "lost_pending", res.LostPending)
	}
	data, _ := os.ReadFile(path) // #nosec G304 - same path Load just read
	return s.switchTo(ctx, res.Doc, res.Format, data)
}

// Create writes a new empty document at path and switches to it.
func (s *Store) Create(ctx context.Context, path, title string) (*types.Document, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create %s: %w", path, ErrExists)
	}
	doc := types.NewDocument(idgen.NewDocID())
	doc.Title = title
	doc.Path = path
	return s.createAndSwitch(ctx, doc)
}

// NewTemp creates a scratch document under the store's temp directory and
// switches to it.
func (s *Store) NewTemp(ctx context.Context, title string) (*types.Document, error) {
	doc := types.NewDocument(idgen.NewDocID())
	doc.Title = title
	doc.IsTemp = true
	name := doc.DocID
	if slug := idgen.Slug(title); slug != "" {
		name = slug + "-" + doc.DocID
	}
	doc.Path = filepath.Join(s.dir, "temp", name+".md")
	return s.createAndSwitch(ctx, doc)
}

func (s *Store) createAndSwitch(ctx context.Context, doc *types.Document) (*types.Document, error) {
	data, err := mdstore.Encode(doc, mdstore.Options{Format: s.format})
	if err != nil {
		return nil, fmt.Errorf("encode new document: %w", err)
	}
	if _, err := s.writer.Write(ctx, doc.Path, doc.DocID, data, false); err != nil {
		return nil, err
	}
	return s.switchTo(ctx, doc, s.format, data)
}

func (s *Store) switchTo(ctx context.Context, doc *types.Document, format mdstore.Format, onDisk []byte) (*types.Document, error) {
	s.flush.Cancel()
	if _, err := s.persist(ctx); err != nil && !errors.Is(err, ErrNoPath) {
		// The old document stays authoritative if it cannot be saved.
		return nil, fmt.Errorf("save before switching: %w", err)
	}

	s.mu.Lock()
	s.doc = doc
	s.format = format
	s.lastWritten = onDisk
	s.dirty = false
	ev := s.eventLocked(eventbus.EventDocumentOpened, OriginCLI)
	ev.Path = doc.Path
	out := cloneDoc(doc)
	s.mu.Unlock()

	s.emit(ctx, ev)
	return out, nil
}

// ReloadFromDisk re-reads the current document's file after an external edit.
// It returns false when the file matches the last write, or when unsaved
// changes exist (the next save wins).
func (s *Store) ReloadFromDisk(ctx context.Context) (bool, error) {
	s.mu.Lock()
	path, lastWritten, dirty := s.doc.Path, s.lastWritten, s.dirty
	s.mu.Unlock()
	if path == "" {
		return false, ErrNoPath
	}

	data, err := os.ReadFile(path) // #nosec G304 - document path chosen by the user
	if err != nil {
		return false, fmt.Errorf("reload %s: %w", path, err)
	}
	if string(data) == string(lastWritten) {
		return false, nil
	}
	if dirty {
		s.log.Warn("external edit ignored: unsaved changes pending", "path", path)
		return false, nil
	}

	res, err := mdstore.Decode(data, mdstore.Options{IDs: s.ids, Logger: s.log, Format: s.format})
	if err != nil {
		return false, fmt.Errorf("reload %s: %w", path, err)
	}

	s.mu.Lock()
	if s.doc.Path != path {
		s.mu.Unlock()
		return false, nil
	}
	res.Doc.Path = path
	res.Doc.IsTemp = s.doc.IsTemp
	if res.NewDocID {
		res.Doc.DocID = s.doc.DocID
	}
	s.doc = res.Doc
	s.format = res.Format
	s.lastWritten = data
	ev := s.eventLocked(eventbus.EventDocumentReplaced, OriginWatch)
	s.mu.Unlock()

	s.emit(ctx, ev)
	return true, nil
}

// Path returns the current document's file path.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Path
}

// Versions lists saved snapshots of the current document, newest first.
func (s *Store) Versions() ([]persist.Version, error) {
	s.mu.Lock()
	docID := s.doc.DocID
	s.mu.Unlock()
	return s.versions.List(docID)
}

// VersionsSince lists snapshots of the current document taken at or after t.
func (s *Store) VersionsSince(t time.Time) ([]persist.Version, error) {
	s.mu.Lock()
	docID := s.doc.DocID
	s.mu.Unlock()
	return s.versions.Since(docID, t)
}

// ReadVersion returns one snapshot's raw file content.
func (s *Store) ReadVersion(id string) ([]byte, error) {
	s.mu.Lock()
	docID := s.doc.DocID
	s.mu.Unlock()
	return s.versions.Read(docID, id)
}

// RestoreVersion replaces the document body with a snapshot. The document
// keeps its id and path; the current content is versioned by the next save.
func (s *Store) RestoreVersion(ctx context.Context, id string) error {
	data, err := s.ReadVersion(id)
	if err != nil {
		return err
	}
	res, err := mdstore.Decode(data, mdstore.Options{IDs: s.ids, Logger: s.log})
	if err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}

	s.mu.Lock()
	s.doc.Root = res.Doc.Root
	s.doc.Title = res.Doc.Title
	s.doc.Metadata = res.Doc.Metadata
	s.markDirtyLocked()
	ev := s.eventLocked(eventbus.EventDocumentReplaced, OriginCLI)
	s.mu.Unlock()

	s.emit(ctx, ev)
	return nil
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	s.flush.Schedule()
}

// eventLocked builds an event carrying a copy of the current document.
func (s *Store) eventLocked(t eventbus.EventType, origin string) *eventbus.Event {
	return &eventbus.Event{
		Type:     t,
		DocID:    s.doc.DocID,
		Origin:   origin,
		Document: cloneDoc(s.doc),
	}
}

func (s *Store) emit(ctx context.Context, ev *eventbus.Event) {
	if ev == nil || s.bus == nil {
		return
	}
	if _, err := s.bus.Dispatch(ctx, ev); err != nil {
		s.log.Debug("event not delivered", "event", ev.Type, "error", err)
	}
}

func cloneDoc(d *types.Document) *types.Document {
	out := *d
	out.Root = tree.Clone(d.Root)
	out.Metadata = maps.Clone(d.Metadata)
	return &out
}
