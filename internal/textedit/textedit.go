// Package textedit applies find/replace and mark edits to a single block's
// inline runs.
//
// Offsets are rune offsets into the block's flattened text, where a hard break
// counts as one character ("\n"). Matching is exact and first-occurrence only.
package textedit

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// Result is the outcome of Apply. Node is a modified copy; the input is never
// touched.
type Result struct {
	Node    *types.Node
	Applied int
	Missed  []string
	// Ranges holds the node's prior text-edit ranges, shifted by this call, plus
	// one range per matched edit.
	Ranges []types.TextEditRange
}

// Apply runs edits in order against n's inline content. Each edit sees the runs
// produced by the previous one. When no edit matches it returns
// types.ErrNoEditsApplied.
func Apply(n *types.Node, edits []types.TextEdit) (*Result, error) {
	if n == nil || !n.Type.HasInlineContent() {
		return nil, fmt.Errorf("text edits need a block with inline content: %w", types.ErrMalformedChange)
	}
	if len(edits) == 0 {
		return nil, fmt.Errorf("no text edits given: %w", types.ErrMalformedChange)
	}

	out := tree.Clone(n)
	res := &Result{Node: out}
	if out.Attrs != nil {
		res.Ranges = append(res.Ranges, out.Attrs.PendingTextEdits...)
	}
	runs := out.Content

	for _, e := range edits {
		var ok bool
		runs, ok = applyOne(runs, e, &res.Ranges)
		if !ok {
			res.Missed = append(res.Missed, e.Find)
			continue
		}
		res.Applied++
	}
	if res.Applied == 0 {
		return nil, fmt.Errorf("%d edit(s) on %q: %w", len(edits), n.ID(), types.ErrNoEditsApplied)
	}
	out.Content = normalize(runs)
	if len(out.Content) == 0 {
		out.Content = nil
	}
	return res, nil
}

func applyOne(runs []*types.Node, e types.TextEdit, ranges *[]types.TextEditRange) ([]*types.Node, bool) {
	if e.Find == "" {
		return runs, false
	}
	flat := flatten(runs)
	at := strings.Index(flat, e.Find)
	if at < 0 {
		return runs, false
	}
	start := utf8.RuneCountInString(flat[:at])
	end := start + utf8.RuneCountInString(e.Find)

	runs, si := splitAt(runs, start)
	runs, ei := splitAt(runs, end)

	if e.Replace != nil {
		var marks []types.Mark
		for _, r := range runs[si:ei] {
			if r.Type == types.TypeText {
				marks = tree.CloneMarks(r.Marks)
				break
			}
		}
		marks = mutateMarks(marks, e)

		replaced := make([]*types.Node, 0, len(runs)-(ei-si)+1)
		replaced = append(replaced, runs[:si]...)
		if *e.Replace != "" {
			replaced = append(replaced, &types.Node{Type: types.TypeText, Text: *e.Replace, Marks: marks})
		}
		replaced = append(replaced, runs[ei:]...)

		newEnd := start + utf8.RuneCountInString(*e.Replace)
		for i := range *ranges {
			(*ranges)[i] = shift((*ranges)[i], start, end, newEnd)
		}
		*ranges = append(*ranges, types.TextEditRange{From: start, To: newEnd, Kind: types.StatusRewrite})
		return normalize(replaced), true
	}

	for _, r := range runs[si:ei] {
		if r.Type == types.TypeText {
			r.Marks = mutateMarks(r.Marks, e)
		}
	}
	*ranges = append(*ranges, types.TextEditRange{From: start, To: end, Kind: types.StatusInsert})
	return normalize(runs), true
}

// Flatten returns the flattened text of an inline run list.
func Flatten(runs []*types.Node) string {
	return flatten(runs)
}

func flatten(runs []*types.Node) string {
	var b strings.Builder
	for _, r := range runs {
		switch r.Type {
		case types.TypeText:
			b.WriteString(r.Text)
		case types.TypeHardBreak:
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func runLen(r *types.Node) int {
	switch r.Type {
	case types.TypeText:
		return utf8.RuneCountInString(r.Text)
	case types.TypeHardBreak:
		return 1
	}
	return 0
}

// splitAt splits the text run containing offset so that a run boundary falls
// exactly on it, and returns the index of the first run starting at offset.
func splitAt(runs []*types.Node, offset int) ([]*types.Node, int) {
	pos := 0
	for i, r := range runs {
		l := runLen(r)
		if offset == pos {
			return runs, i
		}
		if offset < pos+l {
			rs := []rune(r.Text)
			cut := offset - pos
			left := &types.Node{Type: types.TypeText, Text: string(rs[:cut]), Marks: tree.CloneMarks(r.Marks)}
			right := &types.Node{Type: types.TypeText, Text: string(rs[cut:]), Marks: tree.CloneMarks(r.Marks)}
			out := make([]*types.Node, 0, len(runs)+1)
			out = append(out, runs[:i]...)
			out = append(out, left, right)
			out = append(out, runs[i+1:]...)
			return out, i + 1
		}
		pos += l
	}
	return runs, len(runs)
}

func mutateMarks(marks []types.Mark, e types.TextEdit) []types.Mark {
	if e.RemoveMark != "" {
		kept := marks[:0:0]
		for _, m := range marks {
			if m.Type != e.RemoveMark {
				kept = append(kept, m)
			}
		}
		marks = kept
	}
	if e.AddMark != nil && e.AddMark.Type != "" {
		add := tree.CloneMarks([]types.Mark{*e.AddMark})[0]
		replaced := false
		for i, m := range marks {
			if m.Type == add.Type {
				marks[i] = add
				replaced = true
				break
			}
		}
		if !replaced {
			marks = append(marks, add)
		}
	}
	if len(marks) == 0 {
		return nil
	}
	return marks
}

// normalize drops empty text runs and merges neighbors with identical marks.
func normalize(runs []*types.Node) []*types.Node {
	out := make([]*types.Node, 0, len(runs))
	for _, r := range runs {
		if r.Type == types.TypeText && r.Text == "" {
			continue
		}
		if n := len(out); n > 0 && r.Type == types.TypeText && out[n-1].Type == types.TypeText &&
			tree.MarksEqual(out[n-1].Marks, r.Marks) {
			out[n-1] = &types.Node{Type: types.TypeText, Text: out[n-1].Text + r.Text, Marks: out[n-1].Marks}
			continue
		}
		out = append(out, r)
	}
	return out
}

// shift moves a prior range to account for [start,end) becoming [start,newEnd).
func shift(r types.TextEditRange, start, end, newEnd int) types.TextEditRange {
	delta := newEnd - end
	switch {
	case r.From >= end:
		r.From += delta
		r.To += delta
	case r.To <= start:
	default:
		if r.From > start {
			r.From = start
		}
		if r.To >= end {
			r.To += delta
		} else {
			r.To = newEnd
		}
	}
	return r
}
