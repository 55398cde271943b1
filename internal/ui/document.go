package ui

import (
	"fmt"
	"strings"

	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// ChangeViewOptions controls RenderChanges.
type ChangeViewOptions struct {
	ShowIDs     bool
	OnlyPending bool
	Width       int // truncation width for "was:" lines; 0 means 80
}

// RenderChanges renders the document as Markdown with a gutter marking each
// top-level block that holds pending edits. Rewritten blocks are followed by
// their original text.
func RenderChanges(root *types.Node, opts ChangeViewOptions) string {
	if root == nil {
		return ""
	}
	width := opts.Width
	if width <= 0 {
		width = 80
	}

	var sections []string
	skipped := false
	for _, block := range root.Content {
		status := blockStatus(block)
		if opts.OnlyPending && status == types.StatusNone {
			skipped = true
			continue
		}
		if skipped && len(sections) > 0 {
			sections = append(sections, RenderMuted("  ⋮"))
		}
		skipped = false

		md := strings.TrimRight(mdstore.Body(&types.Node{Type: types.TypeDoc, Content: []*types.Node{block}}), "\n")
		if md == "" {
			md = RenderMuted("(empty " + string(block.Type) + ")")
		}
		sections = append(sections, renderBlock(block, md, status, opts.ShowIDs, width))
	}
	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n\n") + "\n"
}

func renderBlock(block *types.Node, md string, status types.PendingStatus, showIDs bool, width int) string {
	style := StatusStyle(status)
	mark := StatusMark(status)
	if status != types.StatusNone {
		mark = style.Render(mark)
	}

	lines := strings.Split(md, "\n")
	for i, l := range lines {
		if status == types.StatusDelete {
			l = DeletedStyle.Render(l)
		}
		lines[i] = mark + " " + l
	}
	if showIDs && block.ID() != "" {
		lines[0] += "  " + RenderMuted("#"+block.ID())
	}
	if orig := originalText(block); orig != "" {
		lines = append(lines, "  "+RenderMuted("was: "+TruncateSimple(FirstLine(orig), width)))
	}
	return strings.Join(lines, "\n")
}

// blockStatus summarizes the pending state of a block. A container reports
// the shared status of its pending leaves, or rewrite when they differ.
func blockStatus(n *types.Node) types.PendingStatus {
	if n.Type.IsLeafBlock() {
		return n.Status()
	}
	if n.Attrs != nil && n.Attrs.PendingOriginalContent != nil {
		return types.StatusRewrite
	}
	status := types.StatusNone
	for _, leaf := range tree.LeafDescendants(n) {
		s := leaf.Status()
		switch {
		case s == types.StatusNone:
		case status == types.StatusNone:
			status = s
		case status != s:
			return types.StatusRewrite
		}
	}
	return status
}

func originalText(n *types.Node) string {
	if n.Attrs == nil || n.Attrs.PendingOriginalContent == nil {
		return ""
	}
	if n.Type.IsLeafBlock() && n.Status() != types.StatusRewrite {
		return ""
	}
	return tree.Text(n.Attrs.PendingOriginalContent)
}

// RenderPendingList renders one line per pending block, with the original
// text under rewrites.
func RenderPendingList(list []types.PendingNode, width int) string {
	if len(list) == 0 {
		return RenderInfoIcon() + " " + RenderMuted("No pending changes") + "\n"
	}
	if width <= 0 {
		width = 80
	}
	textWidth := max(width-22, 20)

	var b strings.Builder
	for _, p := range list {
		pad := strings.Repeat(" ", max(7-len(p.Status), 0))
		fmt.Fprintf(&b, "%s %s%s %s %s\n",
			StatusStyle(p.Status).Render(StatusMark(p.Status)),
			RenderStatus(p.Status), pad,
			RenderAccent(p.ID),
			TruncateSimple(FirstLine(p.Text), textWidth))
		if p.Original != "" {
			fmt.Fprintf(&b, "  %s\n", RenderMuted("was: "+TruncateSimple(FirstLine(p.Original), textWidth)))
		}
	}
	return b.String()
}
