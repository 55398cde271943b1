// Package pending resolves pending edits: accepting makes them permanent,
// rejecting rolls the tree back.
//
// Status lives on leaf blocks. A baseline lives either on the rewritten leaf or,
// after a container rewrite, on the container; leaves below such a container
// resolve against it.
package pending

import (
	"fmt"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// Accept accepts every pending edit at or below id. It returns the number of leaf
// blocks resolved; zero means there was nothing pending there.
func Accept(root *types.Node, id string) (int, error) {
	return resolve(root, id, acceptLeaf)
}

// Reject rejects every pending edit at or below id.
func Reject(root *types.Node, id string) (int, error) {
	n := tree.Lookup(root, id)
	if n == nil {
		return 0, fmt.Errorf("reject %q: %w", id, types.ErrNodeNotFound)
	}
	if !n.Type.IsLeafBlock() && n.Attrs != nil && n.Attrs.PendingOriginalContent != nil {
		count := len(pendingIn(n))
		restore(root, id)
		return count, nil
	}
	return resolve(root, id, rejectLeaf)
}

// AcceptAll accepts every pending edit in the document.
func AcceptAll(root *types.Node) int {
	return resolveAll(root, acceptLeaf)
}

// RejectAll rejects every pending edit in the document.
func RejectAll(root *types.Node) int {
	return resolveAll(root, rejectLeaf)
}

// IDs returns the ids of pending leaf blocks in document order.
func IDs(root *types.Node) []string {
	return pendingIn(root)
}

// List summarizes pending leaf blocks in document order.
func List(root *types.Node) []types.PendingNode {
	var out []types.PendingNode
	for i, leaf := range tree.LeafBlocks(root) {
		if leaf.Status() == types.StatusNone {
			continue
		}
		pn := types.PendingNode{
			ID:      leaf.ID(),
			Type:    leaf.Type,
			Status:  leaf.Status(),
			Text:    tree.Text(leaf),
			Ordinal: i,
		}
		if orig := leaf.Attrs.PendingOriginalContent; orig != nil {
			pn.Original = tree.Text(orig)
		}
		out = append(out, pn)
	}
	return out
}

type leafFunc func(root *types.Node, id string) bool

func resolve(root *types.Node, id string, fn leafFunc) (int, error) {
	n := tree.Lookup(root, id)
	if n == nil {
		return 0, fmt.Errorf("resolve %q: %w", id, types.ErrNodeNotFound)
	}
	ids := pendingIn(n)
	if n.Type.IsLeafBlock() {
		ids = nil
		if n.Status() != types.StatusNone {
			ids = []string{id}
		}
	}
	return resolveIDs(root, ids, fn), nil
}

func resolveAll(root *types.Node, fn leafFunc) int {
	return resolveIDs(root, pendingIn(root), fn)
}

// resolveIDs walks ids back to front so removals never shift nodes that are
// still waiting to be processed.
func resolveIDs(root *types.Node, ids []string, fn leafFunc) int {
	count := 0
	for i := len(ids) - 1; i >= 0; i-- {
		if fn(root, ids[i]) {
			count++
		}
	}
	return count
}

func pendingIn(n *types.Node) []string {
	var ids []string
	for _, leaf := range tree.LeafDescendants(n) {
		if leaf.Status() != types.StatusNone && leaf.ID() != "" {
			ids = append(ids, leaf.ID())
		}
	}
	return ids
}

func acceptLeaf(root *types.Node, id string) bool {
	pos, ok := tree.FindByID(root, id)
	if !ok {
		return false
	}
	leaf := pos.Node()
	holder := baselineHolder(pos)

	switch leaf.Status() {
	case types.StatusInsert, types.StatusRewrite:
		leaf.Attrs.ClearPending()
	case types.StatusDelete:
		removeCollapsing(pos)
	default:
		return false
	}
	if holder != nil && holder != leaf && len(pendingIn(holder)) == 0 {
		holder.Attrs.PendingOriginalContent = nil
	}
	return true
}

func rejectLeaf(root *types.Node, id string) bool {
	pos, ok := tree.FindByID(root, id)
	if !ok {
		return false
	}
	leaf := pos.Node()
	holder := baselineHolder(pos)

	switch leaf.Status() {
	case types.StatusInsert:
		removeCollapsing(pos)
	case types.StatusRewrite:
		switch {
		case holder == leaf:
			tree.Splice(pos.Parent, pos.Index, 1, tree.Snapshot(leaf.Attrs.PendingOriginalContent))
		case holder != nil:
			restore(root, holder.ID())
		default:
			removeCollapsing(pos)
		}
	case types.StatusDelete:
		// The delete overwrote whatever was pending before it, so the node
		// comes back as it now reads with nothing pending.
		leaf.Attrs.ClearPending()
		if holder != nil && holder != leaf && len(pendingIn(holder)) == 0 {
			holder.Attrs.PendingOriginalContent = nil
		}
	default:
		return false
	}
	return true
}

// restore swaps the container with the given id for its baseline.
func restore(root *types.Node, id string) {
	pos, ok := tree.FindByID(root, id)
	if !ok {
		return
	}
	n := pos.Node()
	tree.Splice(pos.Parent, pos.Index, 1, tree.Snapshot(n.Attrs.PendingOriginalContent))
}

// baselineHolder returns the nearest node at or above pos that carries a
// baseline, excluding the root.
func baselineHolder(pos tree.Position) *types.Node {
	if n := pos.Node(); n.Attrs != nil && n.Attrs.PendingOriginalContent != nil {
		return n
	}
	for i := len(pos.Ancestors) - 1; i >= 1; i-- {
		a := pos.Ancestors[i]
		if a.Attrs != nil && a.Attrs.PendingOriginalContent != nil {
			return a
		}
	}
	return nil
}

// removeCollapsing removes the node at pos. While the node being removed is its
// parent's only child, the parent is removed instead; the root is never removed.
func removeCollapsing(pos tree.Position) {
	node := pos.Node()
	level := len(pos.Ancestors) - 1
	parent := pos.Parent
	for level > 0 && len(parent.Content) == 1 {
		node = parent
		level--
		parent = pos.Ancestors[level]
	}
	for i, c := range parent.Content {
		if c == node {
			tree.Splice(parent, i, 1)
			return
		}
	}
}
