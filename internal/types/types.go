// Package types defines core data structures for the redline document engine.
package types

import (
	"fmt"
	"strings"
)

// NodeType tags the kind of a document node.
type NodeType string

// Root
const (
	TypeDoc NodeType = "doc"
)

// Leaf blocks hold inline content (or nothing) and carry pending status directly.
const (
	TypeParagraph      NodeType = "paragraph"
	TypeHeading        NodeType = "heading"
	TypeCodeBlock      NodeType = "codeBlock"
	TypeHorizontalRule NodeType = "horizontalRule"
	TypeImage          NodeType = "image"
)

// Container blocks hold other blocks and never carry pending status themselves.
const (
	TypeBulletList  NodeType = "bulletList"
	TypeOrderedList NodeType = "orderedList"
	TypeListItem    NodeType = "listItem"
	TypeBlockquote  NodeType = "blockquote"
	TypeTaskList    NodeType = "taskList"
	TypeTaskItem    NodeType = "taskItem"
	TypeTable       NodeType = "table"
	TypeTableRow    NodeType = "tableRow"
	TypeTableHeader NodeType = "tableHeader"
	TypeTableCell   NodeType = "tableCell"
)

// Inline nodes
const (
	TypeText      NodeType = "text"
	TypeHardBreak NodeType = "hardBreak"
)

// IsLeafBlock reports whether nodes of this type carry pending status.
func (t NodeType) IsLeafBlock() bool {
	switch t {
	case TypeParagraph, TypeHeading, TypeCodeBlock, TypeHorizontalRule, TypeImage:
		return true
	}
	return false
}

// IsContainer reports whether nodes of this type hold child blocks.
func (t NodeType) IsContainer() bool {
	switch t {
	case TypeBulletList, TypeOrderedList, TypeListItem, TypeBlockquote,
		TypeTaskList, TypeTaskItem, TypeTable, TypeTableRow, TypeTableHeader, TypeTableCell:
		return true
	}
	return false
}

// IsInline reports whether nodes of this type live inside a leaf block's content.
func (t NodeType) IsInline() bool {
	return t == TypeText || t == TypeHardBreak
}

// IsBlock reports whether nodes of this type carry an id.
func (t NodeType) IsBlock() bool {
	return t.IsLeafBlock() || t.IsContainer()
}

// HasInlineContent reports whether the type holds text runs.
func (t NodeType) HasInlineContent() bool {
	return t == TypeParagraph || t == TypeHeading || t == TypeCodeBlock
}

// PendingStatus is the review state of a leaf block.
type PendingStatus string

const (
	StatusNone    PendingStatus = ""
	StatusInsert  PendingStatus = "insert"
	StatusRewrite PendingStatus = "rewrite"
	StatusDelete  PendingStatus = "delete"
)

// IsValid reports whether s is a known status (including none).
func (s PendingStatus) IsValid() bool {
	switch s {
	case StatusNone, StatusInsert, StatusRewrite, StatusDelete:
		return true
	}
	return false
}

// TextEditRange marks an inline character range touched by a fine-grained text edit.
// Offsets count inline characters (runes) only; hard breaks count as one.
type TextEditRange struct {
	From int           `json:"from" yaml:"from" toml:"from"`
	To   int           `json:"to" yaml:"to" toml:"to"`
	Kind PendingStatus `json:"kind" yaml:"kind" toml:"kind"`
}

// Mark is an inline formatting annotation on a text run (bold, italic, link, ...).
type Mark struct {
	Type  string         `json:"type" yaml:"type" toml:"type"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty" toml:"attrs,omitempty"`
}

// Attrs holds block attributes. The identity and pending fields are common to every
// block; the remaining fields are only meaningful for the node kinds noted.
type Attrs struct {
	ID                     string          `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	PendingStatus          PendingStatus   `json:"pendingStatus,omitempty" yaml:"pendingStatus,omitempty" toml:"pendingStatus,omitempty"`
	PendingOriginalContent *Node           `json:"pendingOriginalContent,omitempty" yaml:"pendingOriginalContent,omitempty" toml:"pendingOriginalContent,omitempty"`
	PendingTextEdits       []TextEditRange `json:"pendingTextEdits,omitempty" yaml:"pendingTextEdits,omitempty" toml:"pendingTextEdits,omitempty"`

	Level    int    `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`          // heading
	Language string `json:"language,omitempty" yaml:"language,omitempty" toml:"language,omitempty"` // codeBlock
	Src      string `json:"src,omitempty" yaml:"src,omitempty" toml:"src,omitempty"`                // image
	Alt      string `json:"alt,omitempty" yaml:"alt,omitempty" toml:"alt,omitempty"`                // image
	Title    string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`          // image
	Start    int    `json:"start,omitempty" yaml:"start,omitempty" toml:"start,omitempty"`          // orderedList
	Checked  bool   `json:"checked,omitempty" yaml:"checked,omitempty" toml:"checked,omitempty"`    // taskItem
	Align    string `json:"align,omitempty" yaml:"align,omitempty" toml:"align,omitempty"`          // tableCell, tableHeader
}

// HasPending reports whether any pending field is set.
func (a *Attrs) HasPending() bool {
	return a != nil && (a.PendingStatus != StatusNone || a.PendingOriginalContent != nil || len(a.PendingTextEdits) > 0)
}

// ClearPending drops every pending field.
func (a *Attrs) ClearPending() {
	if a == nil {
		return
	}
	a.PendingStatus = StatusNone
	a.PendingOriginalContent = nil
	a.PendingTextEdits = nil
}

// Node is one element of the document tree.
type Node struct {
	Type    NodeType `json:"type" yaml:"type" toml:"type"`
	Attrs   *Attrs   `json:"attrs,omitempty" yaml:"attrs,omitempty" toml:"attrs,omitempty"`
	Content []*Node  `json:"content,omitempty" yaml:"content,omitempty" toml:"content,omitempty"`
	Text    string   `json:"text,omitempty" yaml:"text,omitempty" toml:"text,omitempty"`
	Marks   []Mark   `json:"marks,omitempty" yaml:"marks,omitempty" toml:"marks,omitempty"`
}

// ID returns the node's id, or "" for inline nodes and unassigned blocks.
func (n *Node) ID() string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs.ID
}

// Status returns the node's pending status.
func (n *Node) Status() PendingStatus {
	if n == nil || n.Attrs == nil {
		return StatusNone
	}
	return n.Attrs.PendingStatus
}

// EnsureAttrs returns the node's attrs, allocating them if needed.
func (n *Node) EnsureAttrs() *Attrs {
	if n.Attrs == nil {
		n.Attrs = &Attrs{}
	}
	return n.Attrs
}

// SetStatus sets the pending status, allocating attrs if needed.
func (n *Node) SetStatus(s PendingStatus) {
	n.EnsureAttrs().PendingStatus = s
}

// Validate checks that the node and its subtree respect the shape of their kinds.
func (n *Node) Validate() error {
	return n.validate("")
}

func (n *Node) validate(path string) error {
	if n == nil {
		return fmt.Errorf("%s: nil node", pathOr(path))
	}
	here := path + "/" + string(n.Type)
	switch {
	case n.Type == TypeDoc:
	case n.Type.IsBlock():
		if n.Text != "" || len(n.Marks) > 0 {
			return fmt.Errorf("%s: block node carries text or marks", here)
		}
		if n.Attrs != nil && !n.Attrs.PendingStatus.IsValid() {
			return fmt.Errorf("%s: invalid pending status %q", here, n.Attrs.PendingStatus)
		}
	case n.Type == TypeText:
		if len(n.Content) > 0 {
			return fmt.Errorf("%s: text node has children", here)
		}
		return nil
	case n.Type == TypeHardBreak:
		if len(n.Content) > 0 || n.Text != "" {
			return fmt.Errorf("%s: hard break has content", here)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown node type", here)
	}

	for _, child := range n.Content {
		if child == nil {
			return fmt.Errorf("%s: nil child", here)
		}
		switch {
		case n.Type.HasInlineContent() && !child.Type.IsInline():
			return fmt.Errorf("%s: %s not allowed inside inline content", here, child.Type)
		case (n.Type == TypeDoc || n.Type.IsContainer()) && !child.Type.IsBlock():
			return fmt.Errorf("%s: %s not allowed inside container", here, child.Type)
		case n.Type == TypeHorizontalRule || n.Type == TypeImage:
			return fmt.Errorf("%s: atom node has children", here)
		}
		if err := child.validate(here); err != nil {
			return err
		}
	}
	return nil
}

func pathOr(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// Document is the authoritative unit of editing: the tree plus out-of-band fields.
type Document struct {
	Root     *Node          `json:"root"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	DocID    string         `json:"docId"`
	Path     string         `json:"path,omitempty"`
	IsTemp   bool           `json:"isTemp,omitempty"`
}

// NewDocument returns an empty document with the given id.
func NewDocument(docID string) *Document {
	return &Document{
		Root:     &Node{Type: TypeDoc},
		Metadata: map[string]any{},
		DocID:    docID,
	}
}

// String renders a short description for logs.
func (d *Document) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "doc %s", d.DocID)
	if d.Title != "" {
		fmt.Fprintf(&b, " %q", d.Title)
	}
	if d.Path != "" {
		fmt.Fprintf(&b, " (%s)", d.Path)
	}
	return b.String()
}
