// Package applier executes insert/rewrite/delete change requests against a
// document tree, assigning node identity and pending status as it goes.
//
// Requests are applied one at a time in order. A batch is not transactional:
// a request that fails to resolve its target is skipped and counted, and
// earlier requests in the same batch stay applied.
package applier

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/steveyegge/redline/internal/idgen"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// DefaultDuplicateWindow is how many pending-insert nodes after an anchor are
// scanned for a duplicate of incoming content.
const DefaultDuplicateWindow = 8

// Options configures an Applier.
type Options struct {
	// IDs generates node ids. Defaults to idgen.Random.
	IDs idgen.Generator
	// DuplicateWindow bounds duplicate-insert scanning. Zero means the default;
	// negative disables suppression.
	DuplicateWindow int
}

// Applier applies change requests. It holds no document state and is safe to
// share; callers serialize access to the tree they pass in.
type Applier struct {
	ids    idgen.Generator
	window int
}

// New creates an Applier.
func New(opts Options) *Applier {
	a := &Applier{ids: opts.IDs, window: opts.DuplicateWindow}
	if a.ids == nil {
		a.ids = idgen.Random{}
	}
	if a.window == 0 {
		a.window = DefaultDuplicateWindow
	}
	return a
}

// Apply applies reqs to root in order and reports per-request outcomes.
func (a *Applier) Apply(root *types.Node, reqs []types.ChangeRequest) *types.BatchResult {
	batch := &types.BatchResult{Changes: make([]types.ChangeResult, 0, len(reqs))}
	ids := mapset.NewThreadUnsafeSet(tree.IDs(root)...)

	for _, req := range reqs {
		res, err := a.apply(root, req, ids)
		if err != nil {
			res = types.ChangeResult{ChangeRequest: req, Error: err.Error()}
			batch.SkippedCount++
		} else {
			batch.AppliedCount++
			if last := lastNodeID(res); last != "" {
				batch.LastNodeID = last
			}
		}
		batch.Changes = append(batch.Changes, res)
	}
	return batch
}

// ApplyOne applies a single request.
func (a *Applier) ApplyOne(root *types.Node, req types.ChangeRequest) (types.ChangeResult, error) {
	return a.apply(root, req, mapset.NewThreadUnsafeSet(tree.IDs(root)...))
}

// RewriteWithTextEdits rewrites nodeID with replacement and records ranges as the
// node's fine-grained text edits.
func (a *Applier) RewriteWithTextEdits(root *types.Node, nodeID string, replacement *types.Node, ranges []types.TextEditRange) (types.ChangeResult, error) {
	req := types.ChangeRequest{Operation: types.OpRewrite, NodeID: nodeID, Content: types.NodeList{replacement}}
	res, err := a.ApplyOne(root, req)
	if err != nil {
		return res, err
	}
	if n := tree.Lookup(root, nodeID); n != nil && len(ranges) > 0 {
		n.EnsureAttrs().PendingTextEdits = append([]types.TextEditRange(nil), ranges...)
		res.Content = types.NodeList{tree.Clone(n)}
	}
	return res, nil
}

func (a *Applier) apply(root *types.Node, req types.ChangeRequest, ids mapset.Set[string]) (types.ChangeResult, error) {
	if err := req.Validate(); err != nil {
		return types.ChangeResult{}, err
	}
	switch req.Operation {
	case types.OpInsert:
		return a.insert(root, req, ids)
	case types.OpRewrite:
		return a.rewrite(root, req, ids)
	case types.OpDelete:
		return a.delete(root, req)
	}
	return types.ChangeResult{}, fmt.Errorf("operation %q: %w", req.Operation, types.ErrMalformedChange)
}

func notFound(id string) error {
	return fmt.Errorf("%q: %w", id, types.ErrNodeNotFound)
}

// IsSkippable reports whether err is a per-request failure that a batch absorbs.
func IsSkippable(err error) bool {
	return errors.Is(err, types.ErrNodeNotFound) || errors.Is(err, types.ErrMalformedChange)
}

func (a *Applier) insert(root *types.Node, req types.ChangeRequest, ids mapset.Set[string]) (types.ChangeResult, error) {
	if req.NodeID != "" {
		return a.replacePlaceholder(root, req, ids)
	}

	var parent *types.Node
	var at int
	pos, ok := tree.FindByID(root, req.AfterNodeID)
	switch {
	case ok:
		parent, at = pos.Parent, pos.Index+1
	case req.AfterNodeID == types.EndNodeID && len(root.Content) == 0:
		parent, at = root, 0
	default:
		return types.ChangeResult{}, notFound(req.AfterNodeID)
	}

	nodes := prepare(parent, req.Content)

	if run := a.findDuplicate(parent, at, nodes); run != nil {
		return types.ChangeResult{
			ChangeRequest: echo(req, run),
			Applied:       true,
			Duplicate:     true,
		}, nil
	}

	for _, n := range nodes {
		a.assignIDs(n, ids, false)
		markLeaves(n, types.StatusInsert)
	}
	tree.Splice(parent, at, 0, nodes...)

	return types.ChangeResult{ChangeRequest: echo(req, nodes), Applied: true}, nil
}

func (a *Applier) replacePlaceholder(root *types.Node, req types.ChangeRequest, ids mapset.Set[string]) (types.ChangeResult, error) {
	pos, ok := tree.FindByID(root, req.NodeID)
	if !ok {
		return types.ChangeResult{}, notFound(req.NodeID)
	}
	placeholder := pos.Node()
	nodes := prepare(pos.Parent, req.Content)

	for i, n := range nodes {
		a.assignIDs(n, ids, i > 0)
		markLeaves(n, types.StatusInsert)
	}
	// The placeholder's id lives on in the first node so callers holding it keep
	// a valid reference.
	nodes[0].EnsureAttrs().ID = placeholder.ID()
	tree.Splice(pos.Parent, pos.Index, 1, nodes...)

	return types.ChangeResult{ChangeRequest: echo(req, nodes), Applied: true}, nil
}

func (a *Applier) rewrite(root *types.Node, req types.ChangeRequest, ids mapset.Set[string]) (types.ChangeResult, error) {
	pos, ok := tree.FindByID(root, req.NodeID)
	if !ok {
		return types.ChangeResult{}, notFound(req.NodeID)
	}
	target := pos.Node()
	nodes := prepare(pos.Parent, req.Content)

	// Below a rewritten container the container's baseline stays the only one,
	// so rejecting this node restores the container.
	var baseline *types.Node
	if !underBaseline(pos) {
		baseline = baselineOf(target)
	}
	wasInsert := tree.IsPendingInsert(target)

	first := nodes[0]
	a.assignIDs(first, ids, false)
	first.EnsureAttrs().ID = target.ID()
	status := types.StatusRewrite
	if wasInsert {
		// A never-accepted node stays an insert so rejecting it still removes it.
		status = types.StatusInsert
	}
	markLeaves(first, status)
	if baseline != nil {
		first.Attrs.PendingOriginalContent = baseline
	}

	for _, extra := range nodes[1:] {
		a.assignIDs(extra, ids, true)
		markLeaves(extra, types.StatusInsert)
	}

	tree.Splice(pos.Parent, pos.Index, 1, nodes...)
	return types.ChangeResult{ChangeRequest: echo(req, nodes), Applied: true}, nil
}

func (a *Applier) delete(root *types.Node, req types.ChangeRequest) (types.ChangeResult, error) {
	pos, ok := tree.FindByID(root, req.NodeID)
	if !ok {
		return types.ChangeResult{}, notFound(req.NodeID)
	}
	target := pos.Node()
	for _, leaf := range tree.LeafDescendants(target) {
		if leaf.Status() == types.StatusDelete {
			continue
		}
		leaf.SetStatus(types.StatusDelete)
	}
	return types.ChangeResult{
		ChangeRequest: types.ChangeRequest{Operation: req.Operation, NodeID: req.NodeID, AfterNodeID: req.AfterNodeID},
		Applied:       true,
	}, nil
}

// findDuplicate returns the run of already-pending-insert siblings at parent[at:]
// whose types and flattened text equal the incoming nodes', or nil.
func (a *Applier) findDuplicate(parent *types.Node, at int, nodes []*types.Node) []*types.Node {
	if a.window < 0 || len(nodes) == 0 {
		return nil
	}
	want := tree.TextOf(nodes)
	limit := at + a.window
	if limit > len(parent.Content) {
		limit = len(parent.Content)
	}
	for i := at; i < limit; i++ {
		if !tree.IsPendingInsert(parent.Content[i]) {
			break
		}
		end := i + len(nodes)
		if end > len(parent.Content) {
			break
		}
		run := parent.Content[i:end]
		match := true
		for j, n := range run {
			if !tree.IsPendingInsert(n) || n.Type != nodes[j].Type {
				match = false
				break
			}
		}
		if match && tree.TextOf(run) == want {
			return run
		}
	}
	return nil
}

// assignIDs gives every block in n's subtree an id that is unique against ids.
// With force, existing ids are replaced as well.
func (a *Applier) assignIDs(n *types.Node, ids mapset.Set[string], force bool) {
	if n == nil || !n.Type.IsBlock() {
		return
	}
	attrs := n.EnsureAttrs()
	if force || attrs.ID == "" || attrs.ID == types.EndNodeID || ids.Contains(attrs.ID) {
		attrs.ID = a.freshID(ids)
	}
	ids.Add(attrs.ID)
	if n.Type.HasInlineContent() {
		return
	}
	for _, c := range n.Content {
		a.assignIDs(c, ids, force)
	}
}

func (a *Applier) freshID(ids mapset.Set[string]) string {
	for {
		id := a.ids.NewID()
		if !ids.Contains(id) && id != types.EndNodeID {
			return id
		}
	}
}

// prepare deep-copies incoming content, strips any pending fields an actor tried
// to set, and wraps blocks that would be invalid directly inside a list.
func prepare(parent *types.Node, content types.NodeList) []*types.Node {
	nodes := make([]*types.Node, 0, len(content))
	for _, n := range content {
		c := tree.Clone(n)
		tree.StripPending(c)
		nodes = append(nodes, fitToParent(parent, c))
	}
	return nodes
}

func fitToParent(parent, n *types.Node) *types.Node {
	switch parent.Type {
	case types.TypeBulletList, types.TypeOrderedList:
		if n.Type != types.TypeListItem {
			return &types.Node{Type: types.TypeListItem, Content: []*types.Node{n}}
		}
	case types.TypeTaskList:
		if n.Type != types.TypeTaskItem {
			return &types.Node{Type: types.TypeTaskItem, Content: []*types.Node{n}}
		}
	}
	return n
}

// markLeaves sets status on every leaf block at or below n.
func markLeaves(n *types.Node, status types.PendingStatus) {
	for _, leaf := range tree.LeafDescendants(n) {
		leaf.SetStatus(status)
	}
}

// underBaseline reports whether a container above pos, other than the root,
// holds a baseline.
func underBaseline(pos tree.Position) bool {
	for i := len(pos.Ancestors) - 1; i >= 1; i-- {
		if a := pos.Ancestors[i]; a.Attrs != nil && a.Attrs.PendingOriginalContent != nil {
			return true
		}
	}
	return false
}

// baselineOf returns the content n should revert to if every pending edit on it
// were rejected, or nil when n is a never-accepted insert.
func baselineOf(n *types.Node) *types.Node {
	if n.Attrs != nil && n.Attrs.PendingOriginalContent != nil {
		return tree.Clone(n.Attrs.PendingOriginalContent)
	}
	if tree.IsPendingInsert(n) {
		return nil
	}
	c := tree.Clone(n)
	revertPending(c)
	tree.StripPending(c)
	return c
}

// revertPending rewinds pending edits below a container in place: rewrites go
// back to their baselines and inserts disappear.
func revertPending(n *types.Node) {
	if n.Type.HasInlineContent() || len(n.Content) == 0 {
		return
	}
	kept := n.Content[:0]
	for _, c := range n.Content {
		switch {
		case c.Attrs != nil && c.Attrs.PendingOriginalContent != nil:
			kept = append(kept, tree.Snapshot(c.Attrs.PendingOriginalContent))
		case tree.IsPendingInsert(c):
			// dropped
		default:
			revertPending(c)
			kept = append(kept, c)
		}
	}
	n.Content = kept
}

func echo(req types.ChangeRequest, nodes []*types.Node) types.ChangeRequest {
	out := req
	out.Content = make(types.NodeList, len(nodes))
	for i, n := range nodes {
		out.Content[i] = tree.Clone(n)
	}
	return out
}

func lastNodeID(res types.ChangeResult) string {
	if len(res.Content) > 0 {
		return res.Content[len(res.Content)-1].ID()
	}
	return res.NodeID
}

// EnsureIDs gives every block below root a unique id, keeping existing ids
// except for repeats after their first occurrence. It returns how many ids were
// assigned.
func EnsureIDs(root *types.Node, gen idgen.Generator) int {
	if gen == nil {
		gen = idgen.Random{}
	}
	a := &Applier{ids: gen}
	seen := mapset.NewThreadUnsafeSet[string]()
	assigned := 0
	tree.WalkBlocks(root, func(n, _ *types.Node, _ int) bool {
		attrs := n.EnsureAttrs()
		if attrs.ID == "" || attrs.ID == types.EndNodeID || seen.Contains(attrs.ID) {
			attrs.ID = a.freshID(seen)
			assigned++
		}
		seen.Add(attrs.ID)
		return true
	})
	return assigned
}
