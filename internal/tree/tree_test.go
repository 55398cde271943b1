package tree

import (
	"testing"

	"github.com/steveyegge/redline/internal/types"
)

func para(id, text string) *types.Node {
	n := &types.Node{Type: types.TypeParagraph, Attrs: &types.Attrs{ID: id}}
	if text != "" {
		n.Content = []*types.Node{{Type: types.TypeText, Text: text}}
	}
	return n
}

func block(t types.NodeType, id string, children ...*types.Node) *types.Node {
	return &types.Node{Type: t, Attrs: &types.Attrs{ID: id}, Content: children}
}

func sampleDoc() *types.Node {
	return &types.Node{Type: types.TypeDoc, Content: []*types.Node{
		para("a", "Hello"),
		block(types.TypeBulletList, "L",
			block(types.TypeListItem, "I1", para("p1", "one")),
			block(types.TypeListItem, "I2", para("p2", "two")),
		),
		para("z", "Bye"),
	}}
}

func TestFindByID(t *testing.T) {
	root := sampleDoc()
	for _, id := range []string{"a", "L", "I1", "p1", "I2", "p2", "z"} {
		pos, ok := FindByID(root, id)
		if !ok {
			t.Fatalf("FindByID(%q) not found", id)
		}
		if got := pos.Node().ID(); got != id {
			t.Errorf("FindByID(%q) returned node %q", id, got)
		}
		if pos.Ancestors[0] != root {
			t.Errorf("FindByID(%q) ancestors do not start at root", id)
		}
		if pos.Ancestors[len(pos.Ancestors)-1] != pos.Parent {
			t.Errorf("FindByID(%q) ancestors do not end at parent", id)
		}
	}

	pos, _ := FindByID(root, "p2")
	if len(pos.Ancestors) != 3 {
		t.Errorf("p2 ancestors = %d, want 3 (doc, list, item)", len(pos.Ancestors))
	}

	if _, ok := FindByID(root, "missing"); ok {
		t.Error("FindByID found a missing id")
	}
	if _, ok := FindByID(root, ""); ok {
		t.Error("FindByID matched the empty id")
	}
}

func TestFindByIDEnd(t *testing.T) {
	root := sampleDoc()
	pos, ok := FindByID(root, types.EndNodeID)
	if !ok || pos.Node().ID() != "z" {
		t.Fatalf("end resolved to %v", pos.Node())
	}

	// "end" ignores stored ids, even a node literally named "end"
	root.Content = []*types.Node{root.Content[0], para("end", "x"), root.Content[1]}
	pos, _ = FindByID(root, types.EndNodeID)
	if pos.Node().ID() != "L" {
		t.Errorf("end resolved to %q, want last top-level node L", pos.Node().ID())
	}

	if _, ok := FindByID(&types.Node{Type: types.TypeDoc}, types.EndNodeID); ok {
		t.Error("end resolved in an empty document")
	}
}

func TestText(t *testing.T) {
	p := &types.Node{Type: types.TypeParagraph, Content: []*types.Node{
		{Type: types.TypeText, Text: "a"},
		{Type: types.TypeText, Text: "b", Marks: []types.Mark{{Type: "bold"}}},
		{Type: types.TypeHardBreak},
		{Type: types.TypeText, Text: "c"},
	}}
	if got := Text(p); got != "ab\nc" {
		t.Errorf("Text = %q", got)
	}
	if got := Text(sampleDoc().Content[1]); got != "one\ntwo" {
		t.Errorf("list Text = %q", got)
	}
	if got := TextOf([]*types.Node{para("", "x"), para("", "y")}); got != "x\ny" {
		t.Errorf("TextOf = %q", got)
	}
}

func TestLeafBlocksOrder(t *testing.T) {
	var ids []string
	for _, n := range LeafBlocks(sampleDoc()) {
		ids = append(ids, n.ID())
	}
	want := []string{"a", "p1", "p2", "z"}
	if len(ids) != len(want) {
		t.Fatalf("LeafBlocks = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("LeafBlocks = %v, want %v", ids, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	root := sampleDoc()
	root.Content[0].Attrs.PendingOriginalContent = para("a", "orig")
	c := Clone(root)
	if !Equal(root, c) {
		t.Fatal("clone not equal to original")
	}
	c.Content[0].Content[0].Text = "changed"
	c.Content[0].Attrs.PendingOriginalContent.Content[0].Text = "changed"
	if Text(root.Content[0]) != "Hello" {
		t.Error("mutating clone changed original text")
	}
	if Text(root.Content[0].Attrs.PendingOriginalContent) != "orig" {
		t.Error("mutating clone changed original baseline")
	}
}

func TestSnapshotStripsPending(t *testing.T) {
	p := para("a", "x")
	p.Attrs.PendingStatus = types.StatusRewrite
	p.Attrs.PendingTextEdits = []types.TextEditRange{{From: 0, To: 1, Kind: types.StatusRewrite}}
	s := Snapshot(p)
	if s.Attrs.HasPending() {
		t.Error("snapshot kept pending fields")
	}
	if s.ID() != "a" {
		t.Errorf("snapshot id = %q", s.ID())
	}
	if p.Status() != types.StatusRewrite {
		t.Error("snapshot stripped the source node")
	}
}

func TestSplice(t *testing.T) {
	root := &types.Node{Type: types.TypeDoc, Content: []*types.Node{para("a", ""), para("b", ""), para("c", "")}}
	Splice(root, 1, 1, para("x", ""), para("y", ""))
	got := IDs(root)
	want := []string{"a", "x", "y", "c"}
	if len(got) != len(want) {
		t.Fatalf("after splice ids = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after splice ids = %v, want %v", got, want)
		}
	}
	Splice(root, 0, 2)
	if ids := IDs(root); len(ids) != 2 || ids[0] != "y" {
		t.Errorf("after removal ids = %v", ids)
	}
}

func TestIsPendingInsert(t *testing.T) {
	item := block(types.TypeListItem, "i", para("p", "x"), para("q", "y"))
	if IsPendingInsert(item) {
		t.Error("unmarked item reported as pending insert")
	}
	item.Content[0].SetStatus(types.StatusInsert)
	if IsPendingInsert(item) {
		t.Error("partially marked item reported as pending insert")
	}
	item.Content[1].SetStatus(types.StatusInsert)
	if !IsPendingInsert(item) {
		t.Error("fully marked item not reported as pending insert")
	}
}
