package mdstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

func sameMarks(a, b []types.Mark) bool {
	return tree.MarksEqual(a, b)
}

// blank reports whether a paragraph has no visible text. Such paragraphs do not
// survive a round trip.
func blank(n *types.Node) bool {
	return strings.TrimSpace(tree.Text(n)) == ""
}

// renderBody serializes a doc node to CommonMark+GFM.
func renderBody(root *types.Node) string {
	lines := renderBlocks(root.Content)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// renderBlocks renders sibling blocks separated by blank lines. Blocks that
// render to nothing (empty paragraphs) are skipped.
func renderBlocks(nodes []*types.Node) []string {
	var out []string
	var prev *types.Node
	alt := false
	for _, n := range nodes {
		// Consecutive lists of the same kind would merge when re-read; switching
		// the marker keeps them apart.
		if prev != nil && isList(n) && listFamily(prev) == listFamily(n) {
			alt = !alt
		} else {
			alt = false
		}
		lines := renderBlock(n, alt)
		if lines == nil {
			continue
		}
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, lines...)
		prev = n
	}
	return out
}

func isList(n *types.Node) bool {
	switch n.Type {
	case types.TypeBulletList, types.TypeOrderedList, types.TypeTaskList:
		return true
	}
	return false
}

func listFamily(n *types.Node) string {
	switch n.Type {
	case types.TypeBulletList, types.TypeTaskList:
		return "bullet"
	case types.TypeOrderedList:
		return "ordered"
	}
	return string(n.Type)
}

func renderBlock(n *types.Node, alt bool) []string {
	switch n.Type {
	case types.TypeParagraph:
		if blank(n) {
			return nil
		}
		return escapeLineStarts(strings.Split(renderInline(n.Content, false), "\n"))

	case types.TypeHeading:
		level := 1
		if n.Attrs != nil && n.Attrs.Level >= 1 && n.Attrs.Level <= 6 {
			level = n.Attrs.Level
		}
		text := strings.ReplaceAll(renderInline(n.Content, false), "\\\n", " ")
		return []string{strings.TrimRight(strings.Repeat("#", level)+" "+text, " ")}

	case types.TypeCodeBlock:
		body := tree.Text(n)
		fence := "```"
		for strings.Contains(body, fence) {
			fence += "`"
		}
		lang := ""
		if n.Attrs != nil {
			lang = n.Attrs.Language
		}
		lines := []string{fence + lang}
		if body != "" {
			lines = append(lines, strings.Split(body, "\n")...)
		}
		return append(lines, fence)

	case types.TypeHorizontalRule:
		// "---" after a list marker would read as a rule ending the list
		return []string{"___"}

	case types.TypeImage:
		var src, alt, title string
		if n.Attrs != nil {
			src, alt, title = n.Attrs.Src, n.Attrs.Alt, n.Attrs.Title
		}
		return []string{"![" + escapeText(alt, false) + "](" + destination(src, title) + ")"}

	case types.TypeBlockquote:
		inner := renderBlocks(n.Content)
		if len(inner) == 0 {
			return []string{">"}
		}
		out := make([]string, len(inner))
		for i, l := range inner {
			if l == "" {
				out[i] = ">"
			} else {
				out[i] = "> " + l
			}
		}
		return out

	case types.TypeBulletList, types.TypeOrderedList, types.TypeTaskList:
		return renderList(n, alt)

	case types.TypeTable:
		return renderTable(n)

	case types.TypeListItem, types.TypeTaskItem, types.TypeTableRow, types.TypeTableCell, types.TypeTableHeader:
		// Stray structural nodes outside their parents render their children.
		lines := renderBlocks(n.Content)
		if len(lines) == 0 {
			return nil
		}
		return lines
	}
	return nil
}

func renderList(n *types.Node, alt bool) []string {
	if len(n.Content) == 0 {
		return nil
	}
	tight := true
	for _, item := range n.Content {
		if len(item.Content) > 1 {
			tight = false
		}
	}

	start := 1
	if n.Type == types.TypeOrderedList && n.Attrs != nil && n.Attrs.Start > 0 {
		start = n.Attrs.Start
	}

	var out []string
	for i, item := range n.Content {
		var marker string
		switch n.Type {
		case types.TypeOrderedList:
			delim := "."
			if alt {
				delim = ")"
			}
			marker = fmt.Sprintf("%d%s ", start+i, delim)
		default:
			marker = "- "
			if alt {
				marker = "* "
			}
		}
		indent := strings.Repeat(" ", len(marker))
		if n.Type == types.TypeTaskList {
			box := "[ ] "
			if item.Attrs != nil && item.Attrs.Checked {
				box = "[x] "
			}
			marker += box
		}

		body := renderBlocks(item.Content)
		if !tight && i > 0 {
			out = append(out, "")
		}
		if len(body) == 0 {
			out = append(out, strings.TrimRight(marker, " "))
			continue
		}
		for j, l := range body {
			switch {
			case j == 0:
				out = append(out, marker+l)
			case l == "":
				out = append(out, "")
			default:
				out = append(out, indent+l)
			}
		}
	}
	return out
}

func renderTable(n *types.Node) []string {
	if len(n.Content) == 0 {
		return nil
	}
	cols := 0
	for _, row := range n.Content {
		if len(row.Content) > cols {
			cols = len(row.Content)
		}
	}
	if cols == 0 {
		return nil
	}

	row := func(r *types.Node) string {
		cells := make([]string, cols)
		for i := range cells {
			if i < len(r.Content) {
				cells[i] = cellText(r.Content[i])
			}
		}
		return "| " + strings.Join(cells, " | ") + " |"
	}

	header := n.Content[0]
	delims := make([]string, cols)
	for i := range delims {
		align := ""
		if i < len(header.Content) && header.Content[i].Attrs != nil {
			align = header.Content[i].Attrs.Align
		}
		switch align {
		case "left":
			delims[i] = ":---"
		case "right":
			delims[i] = "---:"
		case "center":
			delims[i] = ":---:"
		default:
			delims[i] = "---"
		}
	}

	out := []string{row(header), "| " + strings.Join(delims, " | ") + " |"}
	for _, r := range n.Content[1:] {
		out = append(out, row(r))
	}
	return out
}

// cellText renders a cell's blocks as one line of inline markdown.
func cellText(cell *types.Node) string {
	var parts []string
	for _, leaf := range tree.LeafDescendants(cell) {
		if leaf.Type.HasInlineContent() {
			s := renderInline(leaf.Content, true)
			parts = append(parts, strings.ReplaceAll(s, "\\\n", " "))
		}
	}
	return strings.Join(parts, " ")
}

var markRank = map[string]int{MarkLink: 0, MarkBold: 1, MarkItalic: 2, MarkStrike: 3, MarkCode: 4}

func rank(m types.Mark) int {
	if r, ok := markRank[m.Type]; ok {
		return r
	}
	return 5
}

func sortedMarks(marks []types.Mark) []types.Mark {
	out := make([]types.Mark, 0, len(marks))
	for _, m := range marks {
		if _, known := markRank[m.Type]; known {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func hasMark(marks []types.Mark, m types.Mark) bool {
	for _, x := range marks {
		if tree.MarksEqual([]types.Mark{x}, []types.Mark{m}) {
			return true
		}
	}
	return false
}

// renderInline serializes runs with a mark stack: marks stay open across runs
// that share them, and whitespace is kept outside delimiters.
func renderInline(runs []*types.Node, inTable bool) string {
	var b strings.Builder
	var active []types.Mark
	trail := ""

	closeTo := func(keep int) {
		for i := len(active) - 1; i >= keep; i-- {
			b.WriteString(closer(active[i]))
		}
		active = active[:keep]
	}

	for _, r := range runs {
		if r.Type == types.TypeHardBreak {
			closeTo(0)
			b.WriteString(trail)
			trail = ""
			b.WriteString("\\\n")
			continue
		}
		if r.Type != types.TypeText || r.Text == "" {
			continue
		}

		want := sortedMarks(r.Marks)
		keep := 0
		for keep < len(active) && keep < len(want) && hasMark(want, active[keep]) && !isCode(active[keep]) {
			keep++
		}
		closeTo(keep)
		b.WriteString(trail)
		trail = ""

		core := r.Text
		lead := ""
		if len(want) > len(active) {
			trimmed := strings.TrimLeft(core, " \t")
			lead = core[:len(core)-len(trimmed)]
			core = trimmed
			trimmed = strings.TrimRight(core, " \t")
			trail = core[len(trimmed):]
			core = trimmed
		}
		if core == "" {
			b.WriteString(escapeText(lead+trail, inTable))
			trail = ""
			continue
		}
		b.WriteString(escapeText(lead, inTable))

		for _, m := range want {
			if !hasMark(active, m) {
				b.WriteString(opener(m, core))
				active = append(active, m)
			}
		}

		if len(active) > 0 && isCode(active[len(active)-1]) {
			b.WriteString(codeContent(core))
			// code spans cannot stay open across runs
			b.WriteString(closer(active[len(active)-1]))
			active = active[:len(active)-1]
			continue
		}
		segments := strings.Split(core, "\n")
		for i, s := range segments {
			if i > 0 {
				b.WriteString("\\\n")
			}
			b.WriteString(escapeText(s, inTable))
		}
	}
	closeTo(0)
	b.WriteString(escapeText(trail, inTable))
	return b.String()
}

func isCode(m types.Mark) bool { return m.Type == MarkCode }

func opener(m types.Mark, text string) string {
	switch m.Type {
	case MarkBold:
		return "**"
	case MarkItalic:
		return "_"
	case MarkStrike:
		return "~~"
	case MarkLink:
		return "["
	case MarkCode:
		return codeFence(text)
	}
	return ""
}

func closer(m types.Mark) string {
	switch m.Type {
	case MarkBold:
		return "**"
	case MarkItalic:
		return "_"
	case MarkStrike:
		return "~~"
	case MarkLink:
		href, _ := m.Attrs["href"].(string)
		title, _ := m.Attrs["title"].(string)
		return "](" + destination(href, title) + ")"
	case MarkCode:
		return "`"
	}
	return ""
}

// codeFence picks an opening for a code span. Content containing backticks
// uses a double-backtick span padded with spaces.
func codeFence(text string) string {
	if strings.Contains(text, "`") {
		return "`` "
	}
	return "`"
}

func codeContent(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if strings.Contains(text, "`") {
		return text + " `"
	}
	return text
}

func destination(src, title string) string {
	d := src
	if strings.ContainsAny(src, " ()<>") {
		d = "<" + strings.NewReplacer("<", "\\<", ">", "\\>").Replace(src) + ">"
	}
	if title != "" {
		d += ` "` + strings.ReplaceAll(title, `"`, `\"`) + `"`
	}
	return d
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	"~", `\~`,
	"&", `\&`,
)

func escapeText(s string, inTable bool) string {
	s = inlineEscaper.Replace(s)
	if inTable {
		s = strings.ReplaceAll(s, "|", `\|`)
	}
	return s
}

// escapeLineStarts neutralizes characters that would turn a paragraph line into
// a different block.
func escapeLineStarts(lines []string) []string {
	for i, l := range lines {
		l = strings.TrimLeft(l, " \t")
		switch {
		case l == "":
		case strings.HasPrefix(l, "#"), strings.HasPrefix(l, ">"), strings.HasPrefix(l, "|"):
			l = `\` + l
		case strings.HasPrefix(l, "- "), strings.HasPrefix(l, "+ "), l == "-", l == "+",
			strings.HasPrefix(l, "---"), strings.HasPrefix(l, "==="):
			l = `\` + l
		default:
			if j := orderedPrefix(l); j > 0 {
				l = l[:j] + `\` + l[j:]
			}
		}
		lines[i] = l
	}
	return lines
}

// orderedPrefix returns the index of the delimiter in "12. " or "3) " prefixes,
// or 0.
func orderedPrefix(l string) int {
	j := 0
	for j < len(l) && j < 9 && l[j] >= '0' && l[j] <= '9' {
		j++
	}
	if j == 0 || j >= len(l) || (l[j] != '.' && l[j] != ')') {
		return 0
	}
	if j+1 == len(l) || l[j+1] == ' ' {
		return j
	}
	return 0
}
