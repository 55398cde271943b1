// Package reconcile arbitrates between the agent and a live editing session
// writing the same document.
//
// The agent wins for a fixed window after each of its changes: whole-document
// snapshots from the live session that arrive inside the window are dropped.
// Outside the window a snapshot replaces the document, carrying over the pending
// fields the live editor does not round-trip.
package reconcile

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// DefaultWindow is the default write-lock duration.
const DefaultWindow = 5 * time.Second

// WriteLock is a time-window lock stamped by agent changes.
type WriteLock struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	stamped  time.Time
	holdings int
}

// NewWriteLock creates a lock with the given window. now defaults to time.Now.
func NewWriteLock(window time.Duration, now func() time.Time) *WriteLock {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &WriteLock{window: window, now: now}
}

// Stamp (re)starts the window at the current time.
func (l *WriteLock) Stamp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamped = l.now()
	l.holdings++
}

// Held reports whether the window is open.
func (l *WriteLock) Held() bool {
	return l.Remaining() > 0
}

// Remaining returns how long the window stays open, or zero.
func (l *WriteLock) Remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stamped.IsZero() {
		return 0
	}
	left := l.window - l.now().Sub(l.stamped)
	if left < 0 {
		return 0
	}
	return left
}

// Window returns the configured lock duration.
func (l *WriteLock) Window() time.Duration {
	return l.window
}

// Stamps returns how many times the lock has been stamped.
func (l *WriteLock) Stamps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holdings
}

// Report describes a transplant.
type Report struct {
	// Transplanted lists ids whose pending fields were carried over.
	Transplanted []string
	// Lost lists pending ids with no counterpart in the incoming tree.
	Lost []string
}

// Transplant copies pendingStatus, pendingOriginalContent and pendingTextEdits
// from every pending node of current onto the node with the same id in incoming.
// Any pending fields incoming already carries are discarded first; the store is
// the only source of pending state. Nodes are matched by id only.
func Transplant(current, incoming *types.Node) Report {
	tree.StripPending(incoming)

	targets := make(map[string]*types.Node)
	tree.WalkBlocks(incoming, func(n, _ *types.Node, _ int) bool {
		if id := n.ID(); id != "" {
			if _, dup := targets[id]; !dup {
				targets[id] = n
			}
		}
		return true
	})
	incomingIDs := mapset.NewThreadUnsafeSetFromMapKeys(targets)

	var order []string
	sources := make(map[string]*types.Node)
	tree.WalkBlocks(current, func(n, _ *types.Node, _ int) bool {
		if n.Attrs.HasPending() && n.ID() != "" {
			order = append(order, n.ID())
			sources[n.ID()] = n
		}
		return true
	})
	pendingIDs := mapset.NewThreadUnsafeSet(order...)
	matched := pendingIDs.Intersect(incomingIDs)

	var rep Report
	for _, id := range order {
		if !matched.Contains(id) {
			rep.Lost = append(rep.Lost, id)
			continue
		}
		src, dst := sources[id].Attrs, targets[id].EnsureAttrs()
		dst.PendingStatus = src.PendingStatus
		dst.PendingOriginalContent = tree.Clone(src.PendingOriginalContent)
		if src.PendingTextEdits != nil {
			dst.PendingTextEdits = append([]types.TextEditRange(nil), src.PendingTextEdits...)
		}
		rep.Transplanted = append(rep.Transplanted, id)
	}
	return rep
}
