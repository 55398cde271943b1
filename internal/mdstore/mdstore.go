// Package mdstore reads and writes documents as Markdown files with
// frontmatter.
//
// The body is CommonMark with GFM tables, task lists and strikethrough.
// Frontmatter (YAML between "---" lines or TOML between "+++" lines) carries
// the title, the document id, the block ids in document order, and the pending
// state. Every other frontmatter key round-trips as document metadata.
package mdstore

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/steveyegge/redline/internal/applier"
	"github.com/steveyegge/redline/internal/idgen"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// Format selects the frontmatter syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat maps a config value to a Format, defaulting to YAML.
func ParseFormat(s string) Format {
	if Format(s) == FormatTOML {
		return FormatTOML
	}
	return FormatYAML
}

// Reserved frontmatter keys. Anything else is metadata.
const (
	keyTitle         = "title"
	keyDocID         = "doc_id"
	keyIDs           = "ids"
	keyPending       = "pending"
	keyPendingBlocks = "pending_blocks"
)

func reserved(key string) bool {
	switch key {
	case keyTitle, keyDocID, keyIDs, keyPending, keyPendingBlocks:
		return true
	}
	return false
}

// Options configures decoding and encoding.
type Options struct {
	// Format is the frontmatter syntax written by Encode. Decode detects it.
	Format Format
	// IDs generates ids for blocks without a persisted id.
	IDs    idgen.Generator
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Result is a decoded document plus what the decoder had to repair.
type Result struct {
	Doc    *types.Document
	Format Format
	// NewDocID is set when the file carried no valid doc_id.
	NewDocID bool
	// Synthesized counts blocks that received a fresh id.
	Synthesized int
	// LostPending counts pending entries that matched no block.
	LostPending int
}

// Decode parses a Markdown file.
func Decode(data []byte, opts Options) (*Result, error) {
	fm, body, format, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	meta, err := parseFrontmatter(fm, format)
	if err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	docID, fresh := meta.DocID, false
	if !idgen.IsDocID(docID) {
		docID, fresh = idgen.NewDocID(), true
	}
	doc := types.NewDocument(docID)
	doc.Title = meta.Title
	doc.Metadata = meta.Extra
	doc.Root = parseBody(body)

	res := &Result{Doc: doc, Format: format, NewDocID: fresh}
	if format == "" {
		res.Format = ParseFormat(string(opts.Format))
	}

	slots := blockSlots(doc.Root)
	if len(meta.IDs) == len(slots) {
		for i, n := range slots {
			if meta.IDs[i] != "" {
				n.EnsureAttrs().ID = meta.IDs[i]
			}
		}
	} else if len(meta.IDs) > 0 {
		opts.logger().Debug("persisted ids do not match document structure",
			"ids", len(meta.IDs), "blocks", len(slots))
	}
	res.Synthesized = applier.EnsureIDs(doc.Root, opts.IDs)

	res.LostPending = applyPending(doc.Root, meta.Pending)
	for id, baseline := range meta.PendingBlocks {
		n := tree.Lookup(doc.Root, id)
		if n == nil || n.Type.IsLeafBlock() || baseline == nil {
			res.LostPending++
			continue
		}
		n.EnsureAttrs().PendingOriginalContent = baseline
	}
	if res.LostPending > 0 {
		opts.logger().Debug("pending entries lost on load", "count", res.LostPending)
	}
	return res, nil
}

// Encode renders doc as a Markdown file.
func Encode(doc *types.Document, opts Options) ([]byte, error) {
	meta := frontmatter{
		Title:         doc.Title,
		DocID:         doc.DocID,
		Extra:         doc.Metadata,
		Pending:       encodePending(doc.Root),
		PendingBlocks: encodePendingBlocks(doc.Root),
	}
	for _, s := range survivors(doc.Root) {
		meta.IDs = append(meta.IDs, s.id)
	}

	format := opts.Format
	if format == "" {
		format = FormatYAML
	}
	head, err := renderFrontmatter(meta, format)
	if err != nil {
		return nil, fmt.Errorf("render frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.Write(head)
	if body := renderBody(doc.Root); body != "" {
		b.WriteByte('\n')
		b.WriteString(body)
	}
	return b.Bytes(), nil
}

// Load reads and decodes a file.
func Load(path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path) // #nosec G304 - document path chosen by the user
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	res, err := Decode(data, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	res.Doc.Path = path
	return res, nil
}

// slot is a block that survives a write/read cycle, or a placeholder for one
// the reader will create.
type slot struct {
	id   string
	node *types.Node
	leaf bool
}

func slotOf(n *types.Node) slot {
	return slot{id: n.ID(), node: n, leaf: n.Type.IsLeafBlock()}
}

// survivors lists, in document order, the blocks the decoder will produce when
// reading back what renderBody writes for root.
func survivors(root *types.Node) []slot {
	var out []slot
	var walk func(nodes []*types.Node)
	walk = func(nodes []*types.Node) {
		for _, n := range nodes {
			switch n.Type {
			case types.TypeParagraph:
				if !blank(n) {
					out = append(out, slotOf(n))
				}
			case types.TypeHeading, types.TypeCodeBlock, types.TypeHorizontalRule, types.TypeImage:
				out = append(out, slotOf(n))
			case types.TypeBlockquote:
				out = append(out, slotOf(n))
				walk(n.Content)
			case types.TypeBulletList, types.TypeOrderedList, types.TypeTaskList:
				if len(n.Content) == 0 {
					continue
				}
				out = append(out, slotOf(n))
				for _, item := range n.Content {
					out = append(out, slotOf(item))
					walk(item.Content)
				}
			case types.TypeTable:
				out = append(out, tableSlots(n)...)
			default:
				walk(n.Content)
			}
		}
	}
	walk(root.Content)
	return out
}

func tableSlots(t *types.Node) []slot {
	cols := 0
	for _, row := range t.Content {
		if len(row.Content) > cols {
			cols = len(row.Content)
		}
	}
	if cols == 0 {
		return nil
	}
	out := []slot{slotOf(t)}
	for _, row := range t.Content {
		out = append(out, slotOf(row))
		for i := 0; i < cols; i++ {
			if i >= len(row.Content) {
				out = append(out, slot{}, slot{leaf: true})
				continue
			}
			cell := row.Content[i]
			out = append(out, slotOf(cell))
			// the reader gives every cell exactly one paragraph
			para := slot{leaf: true}
			for _, leaf := range tree.LeafDescendants(cell) {
				if leaf.Type.HasInlineContent() {
					para = slotOf(leaf)
					break
				}
			}
			out = append(out, para)
		}
	}
	return out
}

// blockSlots lists every block of a freshly decoded tree in document order.
func blockSlots(root *types.Node) []*types.Node {
	var out []*types.Node
	tree.WalkBlocks(root, func(n, _ *types.Node, _ int) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Body renders root as Markdown without frontmatter.
func Body(root *types.Node) string {
	return renderBody(root)
}
