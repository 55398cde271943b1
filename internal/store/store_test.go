package store_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redline/internal/eventbus"
	"github.com/steveyegge/redline/internal/idgen"
	"github.com/steveyegge/redline/internal/persist"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []*eventbus.Event
}

func (r *recorder) handle(_ context.Context, e *eventbus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []eventbus.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() *eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	s     *store.Store
	clk   *clock
	rec   *recorder
	dir   string
	docMD string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		clk:   &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		rec:   &recorder{},
		dir:   dir,
		docMD: filepath.Join(dir, "notes.md"),
	}
	bus := eventbus.New(nil)
	bus.Register(eventbus.Func("recorder", 10, f.rec.handle, eventbus.AllEventTypes...))
	f.s = store.New(store.Options{
		Dir:           filepath.Join(dir, "state"),
		LockWindow:    5 * time.Second,
		FlushDebounce: time.Hour,
		IDs:           &idgen.Sequence{Prefix: "n"},
		Bus:           bus,
		Now:           f.clk.Now,
	})
	t.Cleanup(func() { _ = f.s.Close() })
	return f
}

func (f *fixture) open(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.docMD, []byte(body), 0o600))
	_, err := f.s.Open(context.Background(), f.docMD)
	require.NoError(t, err)
}

func para(text string) *types.Node {
	return &types.Node{Type: types.TypeParagraph, Content: []*types.Node{{Type: types.TypeText, Text: text}}}
}

func firstID(s *store.Store) string {
	return tree.IDs(s.Document().Root)[0]
}

func TestApplyChangesStampsLockAndEmits(t *testing.T) {
	f := newFixture(t)
	f.open(t, "first\n\nsecond\n")
	anchor := firstID(f.s)

	res, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpInsert, AfterNodeID: anchor, Content: types.NodeList{para("added")}},
		{Operation: types.OpDelete, NodeID: "missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCount)
	assert.Equal(t, 1, res.SkippedCount)

	st := f.s.Status()
	assert.True(t, st.LockHeld)
	assert.True(t, st.Dirty)
	assert.Equal(t, 1, st.Pending)

	ev := f.rec.last()
	require.NotNil(t, ev)
	assert.Equal(t, eventbus.EventChangesApplied, ev.Type)
	assert.Equal(t, store.OriginAgent, ev.Origin)
	assert.Equal(t, 1, ev.Applied)
	require.NotNil(t, ev.Document)
	assert.Contains(t, tree.Text(ev.Document.Root), "added")
}

func TestApplyChangesNothingAppliedLeavesLockFree(t *testing.T) {
	f := newFixture(t)
	f.open(t, "only\n")

	res, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpDelete, NodeID: "missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.AppliedCount)
	assert.False(t, f.s.Status().LockHeld)
	assert.NotContains(t, f.rec.types(), eventbus.EventChangesApplied)
}

func TestSnapshotDroppedInsideLockWindow(t *testing.T) {
	f := newFixture(t)
	f.open(t, "keep me\n")
	id := firstID(f.s)

	_, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: id, Content: types.NodeList{para("agent text")}},
	})
	require.NoError(t, err)

	snap := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("session text")}}
	snap.Content[0].EnsureAttrs().ID = id

	f.clk.Advance(2 * time.Second)
	applied, err := f.s.ApplySnapshot(context.Background(), "s1", snap)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, eventbus.EventSnapshotDropped, f.rec.last().Type)
	assert.Equal(t, "agent text", tree.Text(f.s.Document().Root))

	f.clk.Advance(4 * time.Second)
	applied, err = f.s.ApplySnapshot(context.Background(), "s1", snap)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, eventbus.EventDocumentReplaced, f.rec.last().Type)

	doc := f.s.Document()
	assert.Equal(t, "session text", tree.Text(doc.Root))
	n := tree.Lookup(doc.Root, id)
	require.NotNil(t, n)
	assert.Equal(t, types.StatusRewrite, n.Status(), "pending state carried over by id")
	assert.Equal(t, "keep me", tree.Text(n.Attrs.PendingOriginalContent))
}

func TestSnapshotAssignsMissingIDs(t *testing.T) {
	f := newFixture(t)
	f.open(t, "one\n")

	snap := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("one"), para("typed in session")}}
	snap.Content[0].EnsureAttrs().ID = firstID(f.s)

	applied, err := f.s.ApplySnapshot(context.Background(), "s1", snap)
	require.NoError(t, err)
	require.True(t, applied)
	ids := tree.IDs(f.s.Document().Root)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[1])
	assert.Nil(t, snap.Content[1].Attrs, "caller's tree is not modified")
	ev := f.rec.last()
	require.NotNil(t, ev)
	assert.Equal(t, eventbus.EventDocumentReplaced, ev.Type)
	assert.Equal(t, 1, ev.AssignedIDs)
}

func TestSnapshotRejectsNonDocRoot(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.ApplySnapshot(context.Background(), "s1", para("x"))
	assert.ErrorIs(t, err, types.ErrMalformedChange)
}

func TestResolutionStampsLock(t *testing.T) {
	f := newFixture(t)
	f.open(t, "base\n")
	anchor := firstID(f.s)

	_, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpInsert, AfterNodeID: anchor, Content: types.NodeList{para("proposal")}},
	})
	require.NoError(t, err)
	stale := f.s.Document().Root

	f.clk.Advance(6 * time.Second)
	require.False(t, f.s.Status().LockHeld)

	n := f.s.RejectAll(context.Background(), store.OriginCLI)
	assert.Equal(t, 1, n)
	assert.True(t, f.s.Status().LockHeld)

	ev := f.rec.last()
	assert.Equal(t, eventbus.EventPendingResolved, ev.Type)
	assert.Equal(t, eventbus.ActionReject, ev.Action)
	assert.Equal(t, 1, ev.Resolved)

	// a snapshot taken before the rejection cannot bring the insert back
	applied, err := f.s.ApplySnapshot(context.Background(), "s1", stale)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "base", tree.Text(f.s.Document().Root))
}

func TestAcceptAndRejectByID(t *testing.T) {
	f := newFixture(t)
	f.open(t, "a\n\nb\n")
	ids := tree.IDs(f.s.Document().Root)

	_, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: ids[0], Content: types.NodeList{para("A")}},
		{Operation: types.OpDelete, NodeID: ids[1]},
	})
	require.NoError(t, err)
	require.Len(t, f.s.Pending(), 2)

	n, err := f.s.Accept(context.Background(), store.OriginCLI, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.s.Reject(context.Background(), store.OriginCLI, ids[1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, f.s.Pending())
	assert.Equal(t, "A\nb", tree.Text(f.s.Document().Root))

	_, err = f.s.Accept(context.Background(), store.OriginCLI, "missing")
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}

func TestApplyTextEdits(t *testing.T) {
	f := newFixture(t)
	f.open(t, "The quick brown fox\n")
	id := firstID(f.s)

	quick := "slow"
	res, err := f.s.ApplyTextEdits(context.Background(), id, []types.TextEdit{
		{Find: "quick", Replace: &quick},
		{Find: "absent"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, []string{"absent"}, res.Missed)
	require.NotEmpty(t, res.Ranges)
	require.NotNil(t, res.Change)

	n := tree.Lookup(f.s.Document().Root, id)
	assert.Equal(t, "The slow brown fox", tree.Text(n))
	assert.Equal(t, types.StatusRewrite, n.Status())
	assert.Equal(t, "The quick brown fox", tree.Text(n.Attrs.PendingOriginalContent))
	assert.True(t, f.s.Status().LockHeld)

	_, err = f.s.ApplyTextEdits(context.Background(), id, []types.TextEdit{{Find: "zebra"}})
	assert.ErrorIs(t, err, types.ErrNoEditsApplied)

	_, err = f.s.ApplyTextEdits(context.Background(), "missing", []types.TextEdit{{Find: "x"}})
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}

func TestSaveRoundTripsPending(t *testing.T) {
	f := newFixture(t)
	f.open(t, "# Title\n\nbody text\n")
	ids := tree.IDs(f.s.Document().Root)

	_, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: ids[1], Content: types.NodeList{para("new body")}},
	})
	require.NoError(t, err)

	outcome, err := f.s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, persist.Written, outcome)
	assert.False(t, f.s.Status().Dirty)
	assert.Equal(t, eventbus.EventDocumentSaved, f.rec.last().Type)

	outcome, err = f.s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, persist.SkippedIdentical, outcome)

	versions, err := f.s.Versions()
	require.NoError(t, err)
	assert.Len(t, versions, 1, "original content versioned before overwrite")

	// a second store sees the same pending state
	other := store.New(store.Options{Dir: filepath.Join(f.dir, "state2"), FlushDebounce: time.Hour})
	defer func() { _ = other.Close() }()
	doc, err := other.Open(context.Background(), f.docMD)
	require.NoError(t, err)
	n := tree.Lookup(doc.Root, ids[1])
	require.NotNil(t, n)
	assert.Equal(t, types.StatusRewrite, n.Status())
	assert.Equal(t, "body text", tree.Text(n.Attrs.PendingOriginalContent))
}

func TestSaveBlockedByShrinkGuard(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("A long paragraph of settled prose. ", 40)
	f.open(t, long+"\n")

	f.clk.Advance(time.Minute)
	snap := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("x")}}
	snap.Content[0].EnsureAttrs().ID = firstID(f.s)
	applied, err := f.s.ApplySnapshot(context.Background(), "s1", snap)
	require.NoError(t, err)
	require.True(t, applied)

	outcome, err := f.s.Save(context.Background())
	assert.ErrorIs(t, err, types.ErrPersistenceBlocked)
	assert.Equal(t, persist.Blocked, outcome)
	assert.Equal(t, eventbus.EventPersistBlocked, f.rec.last().Type)

	data, err := os.ReadFile(f.docMD)
	require.NoError(t, err)
	assert.Contains(t, string(data), "settled prose")
}

func TestSaveWithoutPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.Save(context.Background())
	assert.ErrorIs(t, err, store.ErrNoPath)
}

func TestCreateAndNewTemp(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "fresh.md")

	doc, err := f.s.Create(context.Background(), path, "Fresh Start")
	require.NoError(t, err)
	assert.Equal(t, "Fresh Start", doc.Title)
	assert.True(t, idgen.IsDocID(doc.DocID))
	assert.FileExists(t, path)
	assert.Equal(t, eventbus.EventDocumentOpened, f.rec.last().Type)

	_, err = f.s.Create(context.Background(), path, "again")
	assert.ErrorIs(t, err, store.ErrExists)

	tmp, err := f.s.NewTemp(context.Background(), "Scratch Pad")
	require.NoError(t, err)
	assert.True(t, tmp.IsTemp)
	assert.True(t, strings.HasPrefix(filepath.Base(tmp.Path), "scratch-pad-"))
	assert.FileExists(t, tmp.Path)
	assert.Equal(t, tmp.Path, f.s.Path())
}

func TestOpenSavesCurrentDocumentFirst(t *testing.T) {
	f := newFixture(t)
	f.open(t, "start\n")
	_, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: firstID(f.s), Content: types.NodeList{para("edited")}},
	})
	require.NoError(t, err)

	next := filepath.Join(f.dir, "next.md")
	require.NoError(t, os.WriteFile(next, []byte("next doc\n"), 0o600))
	_, err = f.s.Open(context.Background(), next)
	require.NoError(t, err)

	data, err := os.ReadFile(f.docMD)
	require.NoError(t, err)
	assert.Contains(t, string(data), "edited")
	assert.Equal(t, "next doc", tree.Text(f.s.Document().Root))
}

func TestReloadFromDisk(t *testing.T) {
	f := newFixture(t)
	f.open(t, "on disk\n")

	changed, err := f.s.ReloadFromDisk(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "unchanged file")

	require.NoError(t, os.WriteFile(f.docMD, []byte("edited elsewhere\n"), 0o600))
	changed, err = f.s.ReloadFromDisk(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "edited elsewhere", tree.Text(f.s.Document().Root))
	assert.Equal(t, store.OriginWatch, f.rec.last().Origin)

	// unsaved changes win over the external edit
	_, err = f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: firstID(f.s), Content: types.NodeList{para("agent")}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.docMD, []byte("third\n"), 0o600))
	changed, err = f.s.ReloadFromDisk(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "agent", tree.Text(f.s.Document().Root))
}

func TestRestoreVersion(t *testing.T) {
	f := newFixture(t)
	f.open(t, "version one\n")
	_, err := f.s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: firstID(f.s), Content: types.NodeList{para("version two")}},
	})
	require.NoError(t, err)
	f.s.AcceptAll(context.Background(), store.OriginCLI)
	_, err = f.s.Save(context.Background())
	require.NoError(t, err)

	versions, err := f.s.Versions()
	require.NoError(t, err)
	require.Len(t, versions, 1)

	require.NoError(t, f.s.RestoreVersion(context.Background(), versions[0].ID))
	assert.Equal(t, "version one", tree.Text(f.s.Document().Root))
	assert.True(t, f.s.Status().Dirty)
}

func TestDocumentReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.open(t, "original\n")
	doc := f.s.Document()
	doc.Root.Content[0].Content[0].Text = "mutated"
	assert.Equal(t, "original", tree.Text(f.s.Document().Root))
}

func TestScheduledFlushWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auto.md")
	require.NoError(t, os.WriteFile(path, []byte("auto\n"), 0o600))

	s := store.New(store.Options{Dir: filepath.Join(dir, "state"), FlushDebounce: 20 * time.Millisecond})
	defer func() { _ = s.Close() }()
	_, err := s.Open(context.Background(), path)
	require.NoError(t, err)

	_, err = s.ApplyChanges(context.Background(), []types.ChangeRequest{
		{Operation: types.OpRewrite, NodeID: firstID(s), Content: types.NodeList{para("flushed")}},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "flushed")
	}, 2*time.Second, 10*time.Millisecond)
}
