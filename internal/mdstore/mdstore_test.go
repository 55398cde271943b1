package mdstore_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redline/internal/applier"
	"github.com/steveyegge/redline/internal/idgen"
	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

const planSource = "---\n" +
	"title: Plan\n" +
	"owner: ada\n" +
	"tags: [a, b]\n" +
	"---\n" +
	"\n" +
	"# Plan\n" +
	"\n" +
	"Some **bold** and _italic_ text with a [link](https://example.com).\n" +
	"\n" +
	"- first\n" +
	"- second\n" +
	"\n" +
	"* [ ] todo\n" +
	"* [x] done\n" +
	"\n" +
	"```go\n" +
	"fmt.Println(\"hi\")\n" +
	"```\n" +
	"\n" +
	"| Name | Qty |\n" +
	"| :--- | ---: |\n" +
	"| apple | 3 |\n"

func decode(t *testing.T, data []byte, opts mdstore.Options) *mdstore.Result {
	t.Helper()
	if opts.IDs == nil {
		opts.IDs = &idgen.Sequence{}
	}
	res, err := mdstore.Decode(data, opts)
	require.NoError(t, err)
	return res
}

func encode(t *testing.T, doc *types.Document, opts mdstore.Options) []byte {
	t.Helper()
	data, err := mdstore.Encode(doc, opts)
	require.NoError(t, err)
	return data
}

func text(s string, marks ...string) *types.Node {
	n := &types.Node{Type: types.TypeText, Text: s}
	for _, m := range marks {
		n.Marks = append(n.Marks, types.Mark{Type: m})
	}
	return n
}

func para(id string, runs ...*types.Node) *types.Node {
	return &types.Node{Type: types.TypeParagraph, Attrs: &types.Attrs{ID: id}, Content: runs}
}

func TestDecodeStructure(t *testing.T) {
	res := decode(t, []byte(planSource), mdstore.Options{})
	doc := res.Doc

	assert.Equal(t, "Plan", doc.Title)
	assert.Equal(t, "ada", doc.Metadata["owner"])
	assert.True(t, idgen.IsDocID(doc.DocID))
	assert.Equal(t, mdstore.FormatYAML, res.Format)

	var kinds []types.NodeType
	for _, n := range doc.Root.Content {
		kinds = append(kinds, n.Type)
	}
	assert.Equal(t, []types.NodeType{
		types.TypeHeading, types.TypeParagraph, types.TypeBulletList,
		types.TypeTaskList, types.TypeCodeBlock, types.TypeTable,
	}, kinds)

	p := doc.Root.Content[1]
	require.Len(t, p.Content, 7)
	assert.Equal(t, "bold", p.Content[1].Text)
	assert.Equal(t, mdstore.MarkBold, p.Content[1].Marks[0].Type)
	assert.Equal(t, mdstore.MarkItalic, p.Content[3].Marks[0].Type)
	assert.Equal(t, "https://example.com", p.Content[5].Marks[0].Attrs["href"])

	tasks := doc.Root.Content[3]
	assert.False(t, tasks.Content[0].Attrs != nil && tasks.Content[0].Attrs.Checked)
	assert.True(t, tasks.Content[1].Attrs.Checked)
	assert.Equal(t, "todo", tree.Text(tasks.Content[0]))

	code := doc.Root.Content[4]
	assert.Equal(t, "go", code.Attrs.Language)
	assert.Equal(t, `fmt.Println("hi")`, tree.Text(code))

	table := doc.Root.Content[5]
	require.Len(t, table.Content, 2)
	assert.Equal(t, types.TypeTableHeader, table.Content[0].Content[0].Type)
	assert.Equal(t, "left", table.Content[0].Content[0].Attrs.Align)
	assert.Equal(t, "right", table.Content[1].Content[1].Attrs.Align)
	assert.Equal(t, "3", tree.Text(table.Content[1].Content[1]))

	for _, id := range tree.IDs(doc.Root) {
		assert.NotEmpty(t, id)
	}
	assert.Equal(t, len(tree.IDs(doc.Root)), res.Synthesized)
}

func TestRoundTripKeepsIDsAndPending(t *testing.T) {
	first := decode(t, []byte(planSource), mdstore.Options{})
	doc := first.Doc
	a := applier.New(applier.Options{IDs: &idgen.Sequence{Prefix: "c"}})

	heading := doc.Root.Content[0].ID()
	firstItem := doc.Root.Content[2].Content[0].Content[0].ID()
	code := doc.Root.Content[4].ID()
	batch := a.Apply(doc.Root, []types.ChangeRequest{
		{Operation: types.OpInsert, AfterNodeID: heading, Content: types.NodeList{para("", text("New intro"))}},
		{Operation: types.OpRewrite, NodeID: firstItem, Content: types.NodeList{para("", text("first, revised"))}},
		{Operation: types.OpDelete, NodeID: code},
	})
	require.Equal(t, 3, batch.AppliedCount)

	data := encode(t, doc, mdstore.Options{})
	second := decode(t, data, mdstore.Options{})

	assert.Zero(t, second.Synthesized)
	assert.Zero(t, second.LostPending)
	assert.Equal(t, doc.DocID, second.Doc.DocID)
	assert.Equal(t, doc.Title, second.Doc.Title)
	assert.Equal(t, doc.Metadata, second.Doc.Metadata)
	assert.True(t, tree.Equal(doc.Root, second.Doc.Root), "round trip changed the tree:\n%s", data)

	rewritten := tree.Lookup(second.Doc.Root, firstItem)
	require.NotNil(t, rewritten)
	assert.Equal(t, types.StatusRewrite, rewritten.Status())
	assert.Equal(t, "first", tree.Text(rewritten.Attrs.PendingOriginalContent))

	assert.Equal(t, data, encode(t, second.Doc, mdstore.Options{}), "encoding is stable")
}

func TestBlankParagraphDoesNotShiftPending(t *testing.T) {
	doc := types.NewDocument(idgen.NewDocID())
	two := para("c", text("two"))
	two.Attrs.PendingStatus = types.StatusRewrite
	two.Attrs.PendingOriginalContent = para("c", text("deux"))
	blank := para("b", text("   "))
	blank.Attrs.PendingStatus = types.StatusInsert
	doc.Root.Content = []*types.Node{para("a", text("one")), blank, two}

	data := encode(t, doc, mdstore.Options{})
	res := decode(t, data, mdstore.Options{})

	require.Len(t, res.Doc.Root.Content, 2)
	assert.Equal(t, []string{"a", "c"}, tree.IDs(res.Doc.Root))
	got := res.Doc.Root.Content[1]
	assert.Equal(t, types.StatusRewrite, got.Status())
	assert.Equal(t, "deux", tree.Text(got.Attrs.PendingOriginalContent))
	assert.Equal(t, types.StatusNone, res.Doc.Root.Content[0].Status())
}

func TestPendingFollowsTextWhenBodyShifts(t *testing.T) {
	doc := types.NewDocument(idgen.NewDocID())
	two := para("b", text("two"))
	two.Attrs.PendingStatus = types.StatusInsert
	doc.Root.Content = []*types.Node{para("a", text("one")), two}

	data := encode(t, doc, mdstore.Options{})
	// someone added a paragraph above the pending one outside the engine
	edited := bytes.Replace(data, []byte("\none\n"), []byte("\none\n\nhand written\n"), 1)
	require.NotEqual(t, data, edited)

	res := decode(t, edited, mdstore.Options{})
	assert.Zero(t, res.LostPending)
	assert.Equal(t, 3, res.Synthesized, "ids no longer line up with the blocks")
	leaves := tree.LeafBlocks(res.Doc.Root)
	require.Len(t, leaves, 3)
	assert.Equal(t, types.StatusNone, leaves[1].Status())
	assert.Equal(t, types.StatusInsert, leaves[2].Status())
	assert.Equal(t, "two", tree.Text(leaves[2]))
}

func TestPendingWithoutHomeIsLost(t *testing.T) {
	src := "---\ndoc_id: 0a1b2c3d\npending:\n  \"0\": {s: insert, t: gone}\n---\n\nstill here\n"
	res := decode(t, []byte(src), mdstore.Options{})
	assert.Equal(t, 1, res.LostPending)
	assert.Equal(t, "0a1b2c3d", res.Doc.DocID)
	assert.False(t, tree.HasPending(res.Doc.Root))
}

func TestTOMLFrontmatter(t *testing.T) {
	first := decode(t, []byte(planSource), mdstore.Options{})
	doc := first.Doc
	leaf := tree.LeafBlocks(doc.Root)[1]
	leaf.SetStatus(types.StatusInsert)

	data := encode(t, doc, mdstore.Options{Format: mdstore.FormatTOML})
	require.True(t, bytes.HasPrefix(data, []byte("+++\n")), "got:\n%s", data)

	res := decode(t, data, mdstore.Options{})
	assert.Equal(t, mdstore.FormatTOML, res.Format)
	assert.Equal(t, "Plan", res.Doc.Title)
	assert.Equal(t, "ada", res.Doc.Metadata["owner"])
	assert.Zero(t, res.Synthesized)
	assert.True(t, tree.Equal(doc.Root, res.Doc.Root), "got:\n%s", data)
}

func TestContainerBaselinePersists(t *testing.T) {
	first := decode(t, []byte(planSource), mdstore.Options{})
	doc := first.Doc
	list := doc.Root.Content[2]
	a := applier.New(applier.Options{IDs: &idgen.Sequence{Prefix: "c"}})
	_, err := a.ApplyOne(doc.Root, types.ChangeRequest{
		Operation: types.OpRewrite,
		NodeID:    list.ID(),
		Content: types.NodeList{{Type: types.TypeBulletList, Content: []*types.Node{
			{Type: types.TypeListItem, Content: []*types.Node{para("", text("only"))}},
		}}},
	})
	require.NoError(t, err)
	require.NotNil(t, doc.Root.Content[2].Attrs.PendingOriginalContent)

	data := encode(t, doc, mdstore.Options{})
	assert.Contains(t, string(data), "pending_blocks:")
	res := decode(t, data, mdstore.Options{})
	got := tree.Lookup(res.Doc.Root, list.ID())
	require.NotNil(t, got)
	require.NotNil(t, got.Attrs.PendingOriginalContent)
	assert.Equal(t, "first\nsecond", tree.Text(got.Attrs.PendingOriginalContent))
	assert.True(t, tree.Equal(doc.Root, res.Doc.Root))
}

func TestInlineMarksRoundTrip(t *testing.T) {
	link := text("site")
	link.Marks = []types.Mark{{Type: mdstore.MarkLink, Attrs: map[string]any{"href": "https://x.y/a b", "title": "T"}}}
	doc := types.NewDocument(idgen.NewDocID())
	doc.Root.Content = []*types.Node{
		para("p1",
			text("a "),
			text("b", mdstore.MarkBold, mdstore.MarkItalic),
			text(" "),
			text("c`d", mdstore.MarkCode),
			text(" "),
			text("gone", mdstore.MarkStrike),
			text(" "),
			link,
			&types.Node{Type: types.TypeHardBreak},
			text("next"),
		),
		para("p2", text("1. not a list * star _under_ [x] <tag> a&b")),
		{Type: types.TypeHeading, Attrs: &types.Attrs{ID: "h", Level: 3}, Content: []*types.Node{text("Third")}},
	}

	data := encode(t, doc, mdstore.Options{})
	res := decode(t, data, mdstore.Options{})
	assert.True(t, tree.Equal(doc.Root, res.Doc.Root), "got:\n%s", data)
}

func TestAdjacentListsStaySeparate(t *testing.T) {
	item := func(id, s string) *types.Node {
		return &types.Node{Type: types.TypeListItem, Attrs: &types.Attrs{ID: id}, Content: []*types.Node{para(id+"p", text(s))}}
	}
	doc := types.NewDocument(idgen.NewDocID())
	doc.Root.Content = []*types.Node{
		{Type: types.TypeBulletList, Attrs: &types.Attrs{ID: "l1"}, Content: []*types.Node{item("i1", "a")}},
		{Type: types.TypeBulletList, Attrs: &types.Attrs{ID: "l2"}, Content: []*types.Node{item("i2", "b")}},
		{Type: types.TypeOrderedList, Attrs: &types.Attrs{ID: "l3", Start: 4}, Content: []*types.Node{item("i3", "c")}},
		{Type: types.TypeHorizontalRule, Attrs: &types.Attrs{ID: "hr"}},
	}

	data := encode(t, doc, mdstore.Options{})
	res := decode(t, data, mdstore.Options{})
	assert.True(t, tree.Equal(doc.Root, res.Doc.Root), "got:\n%s", data)
}

func TestNoFrontmatter(t *testing.T) {
	res := decode(t, []byte("# Hi\n\nText\n"), mdstore.Options{Format: mdstore.FormatTOML})
	assert.True(t, idgen.IsDocID(res.Doc.DocID))
	assert.Equal(t, 2, res.Synthesized)
	assert.Equal(t, mdstore.FormatTOML, res.Format)
	assert.Empty(t, res.Doc.Title)

	res = decode(t, []byte("---\ntitle: x\n"), mdstore.Options{})
	assert.Empty(t, res.Doc.Title, "an unclosed fence is body text")
}

func TestEncodeDropsReservedMetadata(t *testing.T) {
	doc := types.NewDocument("0a1b2c3d")
	doc.Metadata["ids"] = "bogus"
	doc.Metadata["status"] = "draft"
	doc.Root.Content = []*types.Node{para("a", text("x"))}

	data := string(encode(t, doc, mdstore.Options{}))
	assert.Contains(t, data, "status: draft")
	assert.NotContains(t, data, "bogus")
	assert.Equal(t, 1, strings.Count(data, "ids:"))
}
