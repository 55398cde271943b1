// Package tree implements addressing and traversal over the document node tree.
//
// Lookups are recursive depth-first scans over Content; the first match wins.
// Ids are assumed unique within a document and are not validated here.
package tree

import (
	"reflect"
	"strings"

	"github.com/steveyegge/redline/internal/types"
)

// Position locates a node as an index into its parent's Content.
type Position struct {
	Parent *types.Node
	Index  int
	// Ancestors runs from the root down to Parent (inclusive).
	Ancestors []*types.Node
}

// Node returns the node at the position.
func (p Position) Node() *types.Node {
	if p.Parent == nil || p.Index < 0 || p.Index >= len(p.Parent.Content) {
		return nil
	}
	return p.Parent.Content[p.Index]
}

// FindByID locates the node with the given id below root. The sentinel
// types.EndNodeID resolves to the last top-level node regardless of its id.
func FindByID(root *types.Node, id string) (Position, bool) {
	if root == nil || id == "" {
		return Position{}, false
	}
	if id == types.EndNodeID {
		if len(root.Content) == 0 {
			return Position{}, false
		}
		return Position{Parent: root, Index: len(root.Content) - 1, Ancestors: []*types.Node{root}}, true
	}
	return find(root, id, []*types.Node{root})
}

func find(parent *types.Node, id string, ancestors []*types.Node) (Position, bool) {
	for i, child := range parent.Content {
		if child == nil {
			continue
		}
		if child.ID() == id {
			return Position{Parent: parent, Index: i, Ancestors: ancestors}, true
		}
		if len(child.Content) > 0 && !child.Type.HasInlineContent() {
			next := make([]*types.Node, len(ancestors), len(ancestors)+1)
			copy(next, ancestors)
			if pos, ok := find(child, id, append(next, child)); ok {
				return pos, true
			}
		}
	}
	return Position{}, false
}

// Lookup returns the node with the given id, or nil.
func Lookup(root *types.Node, id string) *types.Node {
	pos, ok := FindByID(root, id)
	if !ok {
		return nil
	}
	return pos.Node()
}

// WalkFunc is called for each block in document order. Returning false skips
// the node's children.
type WalkFunc func(n *types.Node, parent *types.Node, index int) bool

// WalkBlocks visits every block node below root in document (pre-)order.
func WalkBlocks(root *types.Node, fn WalkFunc) {
	if root == nil {
		return
	}
	walk(root, fn)
}

func walk(parent *types.Node, fn WalkFunc) {
	if parent.Type.HasInlineContent() {
		return
	}
	for i, child := range parent.Content {
		if child == nil || !child.Type.IsBlock() {
			continue
		}
		if fn(child, parent, i) {
			walk(child, fn)
		}
	}
}

// LeafBlocks returns every leaf block below root in document order.
func LeafBlocks(root *types.Node) []*types.Node {
	var out []*types.Node
	WalkBlocks(root, func(n, _ *types.Node, _ int) bool {
		if n.Type.IsLeafBlock() {
			out = append(out, n)
			return false
		}
		return true
	})
	return out
}

// LeafDescendants returns the leaf blocks at or below n, including n itself when
// it is a leaf block.
func LeafDescendants(n *types.Node) []*types.Node {
	if n == nil {
		return nil
	}
	if n.Type.IsLeafBlock() {
		return []*types.Node{n}
	}
	return LeafBlocks(n)
}

// IDs returns the ids of all blocks below root in document order.
func IDs(root *types.Node) []string {
	var ids []string
	WalkBlocks(root, func(n, _ *types.Node, _ int) bool {
		if id := n.ID(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// Text returns the flattened text of n. Inline runs are concatenated; hard breaks
// contribute a newline; sibling blocks are joined by newlines.
func Text(n *types.Node) string {
	var b strings.Builder
	writeText(&b, n)
	return b.String()
}

// TextOf flattens a list of nodes as if they were sibling blocks.
func TextOf(nodes []*types.Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, Text(n))
	}
	return strings.Join(parts, "\n")
}

func writeText(b *strings.Builder, n *types.Node) {
	if n == nil {
		return
	}
	switch n.Type {
	case types.TypeText:
		b.WriteString(n.Text)
		return
	case types.TypeHardBreak:
		b.WriteByte('\n')
		return
	}
	if n.Type.HasInlineContent() {
		for _, c := range n.Content {
			writeText(b, c)
		}
		return
	}
	for i, c := range n.Content {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeText(b, c)
	}
}

// Clone deep-copies n.
func Clone(n *types.Node) *types.Node {
	if n == nil {
		return nil
	}
	out := &types.Node{Type: n.Type, Text: n.Text}
	if n.Attrs != nil {
		a := *n.Attrs
		a.PendingOriginalContent = Clone(n.Attrs.PendingOriginalContent)
		if n.Attrs.PendingTextEdits != nil {
			a.PendingTextEdits = append([]types.TextEditRange(nil), n.Attrs.PendingTextEdits...)
		}
		out.Attrs = &a
	}
	if n.Marks != nil {
		out.Marks = CloneMarks(n.Marks)
	}
	if n.Content != nil {
		out.Content = make([]*types.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = Clone(c)
		}
	}
	return out
}

// CloneMarks deep-copies a mark list.
func CloneMarks(marks []types.Mark) []types.Mark {
	if marks == nil {
		return nil
	}
	out := make([]types.Mark, len(marks))
	for i, m := range marks {
		out[i] = types.Mark{Type: m.Type}
		if m.Attrs != nil {
			out[i].Attrs = make(map[string]any, len(m.Attrs))
			for k, v := range m.Attrs {
				out[i].Attrs[k] = v
			}
		}
	}
	return out
}

// Snapshot deep-copies n with every pending field stripped from the copy and its
// descendants. Used for rollback baselines.
func Snapshot(n *types.Node) *types.Node {
	c := Clone(n)
	StripPending(c)
	return c
}

// StripPending clears pending fields on n and all descendants.
func StripPending(n *types.Node) {
	if n == nil {
		return
	}
	n.Attrs.ClearPending()
	for _, c := range n.Content {
		StripPending(c)
	}
}

// HasPending reports whether n or any block below it carries pending state.
func HasPending(n *types.Node) bool {
	if n == nil {
		return false
	}
	if n.Attrs.HasPending() {
		return true
	}
	if n.Type.HasInlineContent() {
		return false
	}
	for _, c := range n.Content {
		if HasPending(c) {
			return true
		}
	}
	return false
}

// IsPendingInsert reports whether n is a pending insert: a leaf block with status
// insert, or a container whose leaf descendants all are.
func IsPendingInsert(n *types.Node) bool {
	leaves := LeafDescendants(n)
	if len(leaves) == 0 {
		return false
	}
	for _, l := range leaves {
		if l.Status() != types.StatusInsert {
			return false
		}
	}
	return true
}

// Splice replaces count children of parent starting at index with nodes.
func Splice(parent *types.Node, index, count int, nodes ...*types.Node) {
	tail := append([]*types.Node(nil), parent.Content[index+count:]...)
	parent.Content = append(append(parent.Content[:index], nodes...), tail...)
}

// Equal reports whether a and b are structurally identical, including attrs.
func Equal(a, b *types.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.Text != b.Text || len(a.Content) != len(b.Content) {
		return false
	}
	if !marksEqual(a.Marks, b.Marks) || !attrsEqual(a.Attrs, b.Attrs) {
		return false
	}
	for i := range a.Content {
		if !Equal(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

type attrScalars struct {
	id       string
	status   types.PendingStatus
	level    int
	language string
	src      string
	alt      string
	title    string
	start    int
	checked  bool
	align    string
}

func scalars(a *types.Attrs) attrScalars {
	if a == nil {
		return attrScalars{}
	}
	return attrScalars{
		id:       a.ID,
		status:   a.PendingStatus,
		level:    a.Level,
		language: a.Language,
		src:      a.Src,
		alt:      a.Alt,
		title:    a.Title,
		start:    a.Start,
		checked:  a.Checked,
		align:    a.Align,
	}
}

func attrsEqual(a, b *types.Attrs) bool {
	if scalars(a) != scalars(b) {
		return false
	}
	var ao, bo *types.Node
	var ae, be []types.TextEditRange
	if a != nil {
		ao, ae = a.PendingOriginalContent, a.PendingTextEdits
	}
	if b != nil {
		bo, be = b.PendingOriginalContent, b.PendingTextEdits
	}
	if !Equal(ao, bo) || len(ae) != len(be) {
		return false
	}
	for i := range ae {
		if ae[i] != be[i] {
			return false
		}
	}
	return true
}

// MarksEqual reports whether two mark lists are identical in order and attrs.
func MarksEqual(a, b []types.Mark) bool {
	return marksEqual(a, b)
}

func marksEqual(a, b []types.Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || len(a[i].Attrs) != len(b[i].Attrs) {
			return false
		}
		for k, v := range a[i].Attrs {
			if w, ok := b[i].Attrs[k]; !ok || !reflect.DeepEqual(v, w) {
				return false
			}
		}
	}
	return true
}
