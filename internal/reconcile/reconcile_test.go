package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestWriteLockWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	l := NewWriteLock(5*time.Second, clock.Now)

	if l.Held() {
		t.Fatal("fresh lock is held")
	}
	l.Stamp()
	if !l.Held() {
		t.Fatal("lock not held right after stamp")
	}
	clock.Advance(3 * time.Second)
	if got := l.Remaining(); got != 2*time.Second {
		t.Errorf("Remaining = %v, want 2s", got)
	}

	// a second stamp restarts the window
	l.Stamp()
	clock.Advance(4 * time.Second)
	if !l.Held() {
		t.Error("restamped lock expired early")
	}
	clock.Advance(time.Second)
	if l.Held() {
		t.Error("lock still held at window end")
	}
	if l.Stamps() != 2 {
		t.Errorf("Stamps = %d", l.Stamps())
	}
}

func TestWriteLockDefaults(t *testing.T) {
	l := NewWriteLock(0, nil)
	if l.Window() != DefaultWindow {
		t.Errorf("Window = %v", l.Window())
	}
	l.Stamp()
	if !l.Held() {
		t.Error("lock with real clock not held after stamp")
	}
}

func para(id, text string) *types.Node {
	return &types.Node{
		Type:    types.TypeParagraph,
		Attrs:   &types.Attrs{ID: id},
		Content: []*types.Node{{Type: types.TypeText, Text: text}},
	}
}

func TestTransplantCarriesPendingFields(t *testing.T) {
	current := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("a", "new a"), para("b", "b"), para("c", "gone")}}
	a := current.Content[0]
	a.Attrs.PendingStatus = types.StatusRewrite
	a.Attrs.PendingOriginalContent = para("a", "old a")
	a.Attrs.PendingTextEdits = []types.TextEditRange{{From: 0, To: 3, Kind: types.StatusRewrite}}
	current.Content[2].SetStatus(types.StatusDelete)

	// the live editor changed b's text and dropped c
	incoming := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("a", "new a"), para("b", "b edited")}}
	incoming.Content[1].Attrs.PendingStatus = types.StatusInsert

	rep := Transplant(current, incoming)
	assert.Equal(t, []string{"a"}, rep.Transplanted)
	assert.Equal(t, []string{"c"}, rep.Lost)

	got := incoming.Content[0].Attrs
	assert.Equal(t, types.StatusRewrite, got.PendingStatus)
	require.NotNil(t, got.PendingOriginalContent)
	assert.Equal(t, "old a", tree.Text(got.PendingOriginalContent))
	assert.Equal(t, a.Attrs.PendingTextEdits, got.PendingTextEdits)
	assert.NotSame(t, a.Attrs.PendingOriginalContent, got.PendingOriginalContent)

	assert.Equal(t, types.StatusNone, incoming.Content[1].Status(), "stale pending state from the editor is discarded")
	assert.Equal(t, "b edited", tree.Text(incoming.Content[1]), "non-pending content is last-writer-wins")
}

func TestTransplantContainerBaseline(t *testing.T) {
	list := &types.Node{Type: types.TypeBlockquote, Attrs: &types.Attrs{ID: "q", PendingOriginalContent: para("x", "old")}, Content: []*types.Node{para("p", "new")}}
	list.Content[0].SetStatus(types.StatusRewrite)
	current := &types.Node{Type: types.TypeDoc, Content: []*types.Node{list}}
	incoming := tree.Snapshot(current)

	rep := Transplant(current, incoming)
	assert.ElementsMatch(t, []string{"q", "p"}, rep.Transplanted)
	assert.True(t, tree.Equal(current, incoming))
}

func TestTransplantNoPending(t *testing.T) {
	current := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("a", "x")}}
	incoming := &types.Node{Type: types.TypeDoc}
	rep := Transplant(current, incoming)
	assert.Empty(t, rep.Transplanted)
	assert.Empty(t, rep.Lost)
}
