package mdstore

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/steveyegge/redline/internal/types"
)

var markdown = goldmark.New(goldmark.WithExtensions(
	extension.Table,
	extension.Strikethrough,
	extension.TaskList,
))

// Mark names produced by the decoder and understood by the encoder.
const (
	MarkBold   = "bold"
	MarkItalic = "italic"
	MarkStrike = "strike"
	MarkCode   = "code"
	MarkLink   = "link"
)

// parseBody converts a CommonMark+GFM body into a doc node. Block ids are left
// empty.
func parseBody(body []byte) *types.Node {
	root := markdown.Parser().Parse(text.NewReader(body))
	d := &decoder{src: body}
	return &types.Node{Type: types.TypeDoc, Content: d.blocks(root)}
}

type decoder struct {
	src []byte
}

func (d *decoder) blocks(parent gast.Node) []*types.Node {
	var out []*types.Node
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if n := d.block(c); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (d *decoder) block(n gast.Node) *types.Node {
	switch n := n.(type) {
	case *gast.Paragraph, *gast.TextBlock:
		if img := soleImage(n); img != nil {
			return &types.Node{Type: types.TypeImage, Attrs: &types.Attrs{
				Src:   string(unescape(img.Destination)),
				Title: string(unescape(img.Title)),
				Alt:   d.plainText(img),
			}}
		}
		return &types.Node{Type: types.TypeParagraph, Content: d.inlines(n, nil)}

	case *gast.Heading:
		return &types.Node{Type: types.TypeHeading, Attrs: &types.Attrs{Level: n.Level}, Content: d.inlines(n, nil)}

	case *gast.ThematicBreak:
		return &types.Node{Type: types.TypeHorizontalRule}

	case *gast.FencedCodeBlock:
		return d.code(n, string(n.Language(d.src)))

	case *gast.CodeBlock:
		return d.code(n, "")

	case *gast.HTMLBlock:
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(d.src))
		}
		if n.HasClosure() {
			b.Write(n.ClosureLine.Value(d.src))
		}
		raw := strings.TrimRight(b.String(), "\n")
		if raw == "" {
			return nil
		}
		return &types.Node{Type: types.TypeParagraph, Content: []*types.Node{{Type: types.TypeText, Text: raw}}}

	case *gast.Blockquote:
		return &types.Node{Type: types.TypeBlockquote, Content: d.blocks(n)}

	case *gast.List:
		return d.list(n)

	case *east.Table:
		return d.table(n)
	}
	return nil
}

func (d *decoder) code(n gast.Node, lang string) *types.Node {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(d.src))
	}
	node := &types.Node{Type: types.TypeCodeBlock}
	if lang != "" {
		node.Attrs = &types.Attrs{Language: lang}
	}
	if body := strings.TrimSuffix(b.String(), "\n"); body != "" {
		node.Content = []*types.Node{{Type: types.TypeText, Text: body}}
	}
	return node
}

func (d *decoder) list(l *gast.List) *types.Node {
	task := l.ChildCount() > 0
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		if checkbox(item) == nil {
			task = false
			break
		}
	}

	out := &types.Node{Type: types.TypeBulletList}
	itemType := types.TypeListItem
	switch {
	case task:
		out.Type, itemType = types.TypeTaskList, types.TypeTaskItem
	case l.IsOrdered():
		out.Type = types.TypeOrderedList
		if l.Start != 1 {
			out.Attrs = &types.Attrs{Start: l.Start}
		}
	}

	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		li := &types.Node{Type: itemType, Content: d.blocks(item)}
		if task {
			if cb := checkbox(item); cb != nil && cb.IsChecked {
				li.Attrs = &types.Attrs{Checked: true}
			}
		}
		out.Content = append(out.Content, li)
	}
	return out
}

// checkbox returns the task checkbox that opens a list item, if any.
func checkbox(item gast.Node) *east.TaskCheckBox {
	first := item.FirstChild()
	if first == nil {
		return nil
	}
	cb, _ := first.FirstChild().(*east.TaskCheckBox)
	return cb
}

func (d *decoder) table(t *east.Table) *types.Node {
	out := &types.Node{Type: types.TypeTable}
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		cellType := types.TypeTableCell
		if _, ok := row.(*east.TableHeader); ok {
			cellType = types.TypeTableHeader
		}
		r := &types.Node{Type: types.TypeTableRow}
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			c := &types.Node{Type: cellType, Content: []*types.Node{
				{Type: types.TypeParagraph, Content: d.inlines(cell, nil)},
			}}
			if tc, ok := cell.(*east.TableCell); ok && tc.Alignment != east.AlignNone && tc.Alignment != 0 {
				c.Attrs = &types.Attrs{Align: tc.Alignment.String()}
			}
			r.Content = append(r.Content, c)
		}
		out.Content = append(out.Content, r)
	}
	return out
}

// soleImage returns the image when it is the only inline content of a paragraph.
func soleImage(p gast.Node) *gast.Image {
	if p.ChildCount() != 1 {
		return nil
	}
	img, _ := p.FirstChild().(*gast.Image)
	return img
}

// inlines flattens the inline children of n into text runs carrying marks.
func (d *decoder) inlines(n gast.Node, marks []types.Mark) []*types.Node {
	var out []*types.Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, d.inline(c, marks)...)
	}
	return mergeRuns(out)
}

func withMark(marks []types.Mark, m types.Mark) []types.Mark {
	out := make([]types.Mark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, m)
}

func (d *decoder) inline(n gast.Node, marks []types.Mark) []*types.Node {
	switch n := n.(type) {
	case *gast.Text:
		var out []*types.Node
		value := n.Segment.Value(d.src)
		if !n.IsRaw() {
			value = unescape(value)
		}
		if len(value) > 0 {
			out = append(out, run(string(value), marks))
		}
		switch {
		case n.HardLineBreak():
			out = append(out, &types.Node{Type: types.TypeHardBreak})
		case n.SoftLineBreak():
			out = append(out, run(" ", marks))
		}
		return out

	case *gast.String:
		return []*types.Node{run(string(n.Value), marks)}

	case *gast.CodeSpan:
		var b bytes.Buffer
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *gast.Text:
				b.Write(t.Segment.Value(d.src))
			case *gast.String:
				b.Write(t.Value)
			}
		}
		return []*types.Node{run(b.String(), withMark(marks, types.Mark{Type: MarkCode}))}

	case *gast.Emphasis:
		name := MarkItalic
		if n.Level >= 2 {
			name = MarkBold
		}
		return d.inlines(n, withMark(marks, types.Mark{Type: name}))

	case *east.Strikethrough:
		return d.inlines(n, withMark(marks, types.Mark{Type: MarkStrike}))

	case *gast.Link:
		return d.inlines(n, withMark(marks, linkMark(unescape(n.Destination), unescape(n.Title))))

	case *gast.AutoLink:
		return []*types.Node{run(string(n.Label(d.src)), withMark(marks, linkMark(n.URL(d.src), nil)))}

	case *gast.Image:
		// Images inside running text keep their alt text, linked to the source.
		return []*types.Node{run(d.plainText(n), withMark(marks, linkMark(unescape(n.Destination), unescape(n.Title))))}

	case *gast.RawHTML:
		var b bytes.Buffer
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(d.src))
		}
		return []*types.Node{run(b.String(), marks)}

	case *east.TaskCheckBox:
		return nil
	}

	return d.inlines(n, marks)
}

func linkMark(href, title []byte) types.Mark {
	attrs := map[string]any{"href": string(href)}
	if len(title) > 0 {
		attrs["title"] = string(title)
	}
	return types.Mark{Type: MarkLink, Attrs: attrs}
}

func run(s string, marks []types.Mark) *types.Node {
	n := &types.Node{Type: types.TypeText, Text: s}
	if len(marks) > 0 {
		n.Marks = append([]types.Mark(nil), marks...)
	}
	return n
}

func (d *decoder) plainText(n gast.Node) string {
	var b strings.Builder
	for _, r := range d.inlines(n, nil) {
		b.WriteString(r.Text)
	}
	return b.String()
}

func unescape(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	b = util.UnescapePunctuations(b)
	b = util.ResolveNumericReferences(b)
	return util.ResolveEntityNames(b)
}

// mergeRuns joins neighboring text runs with identical marks.
func mergeRuns(runs []*types.Node) []*types.Node {
	out := runs[:0]
	for _, r := range runs {
		if r.Type == types.TypeText && r.Text == "" {
			continue
		}
		if n := len(out); n > 0 && r.Type == types.TypeText && out[n-1].Type == types.TypeText && sameMarks(out[n-1].Marks, r.Marks) {
			out[n-1].Text += r.Text
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
