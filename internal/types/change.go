package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Operation names a change request kind.
type Operation string

const (
	OpInsert  Operation = "insert"
	OpRewrite Operation = "rewrite"
	OpDelete  Operation = "delete"
)

// EndNodeID addresses the last top-level node of the document.
const EndNodeID = "end"

// NodeList is change content. On the wire it is either a single node or an array.
type NodeList []*Node

// UnmarshalJSON accepts both a node object and an array of nodes.
func (l *NodeList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		var nodes []*Node
		if err := json.Unmarshal(trimmed, &nodes); err != nil {
			return err
		}
		*l = nodes
		return nil
	}
	var n Node
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*l = NodeList{&n}
	return nil
}

// ChangeRequest is one proposed edit from an external actor.
type ChangeRequest struct {
	Operation   Operation `json:"operation"`
	NodeID      string    `json:"nodeId,omitempty"`
	AfterNodeID string    `json:"afterNodeId,omitempty"`
	Content     NodeList  `json:"content,omitempty"`
}

// Validate checks the request shape. Failures wrap ErrMalformedChange.
func (r *ChangeRequest) Validate() error {
	switch r.Operation {
	case OpInsert:
		if r.NodeID == "" && r.AfterNodeID == "" {
			return fmt.Errorf("insert needs nodeId or afterNodeId: %w", ErrMalformedChange)
		}
		if r.NodeID != "" && r.AfterNodeID != "" {
			return fmt.Errorf("insert takes nodeId or afterNodeId, not both: %w", ErrMalformedChange)
		}
		if len(r.Content) == 0 {
			return fmt.Errorf("insert without content: %w", ErrMalformedChange)
		}
	case OpRewrite:
		if r.NodeID == "" {
			return fmt.Errorf("rewrite needs nodeId: %w", ErrMalformedChange)
		}
		if len(r.Content) == 0 {
			return fmt.Errorf("rewrite without content: %w", ErrMalformedChange)
		}
	case OpDelete:
		if r.NodeID == "" {
			return fmt.Errorf("delete needs nodeId: %w", ErrMalformedChange)
		}
	default:
		return fmt.Errorf("unknown operation %q: %w", r.Operation, ErrMalformedChange)
	}
	for _, n := range r.Content {
		if n == nil || !n.Type.IsBlock() {
			return fmt.Errorf("%s content must be block nodes: %w", r.Operation, ErrMalformedChange)
		}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%s content: %v: %w", r.Operation, err, ErrMalformedChange)
		}
	}
	return nil
}

// ChangeResult echoes a processed request with server-assigned ids.
type ChangeResult struct {
	ChangeRequest
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the aggregate outcome of one ApplyChanges call.
type BatchResult struct {
	Changes      []ChangeResult `json:"changes"`
	AppliedCount int            `json:"appliedCount"`
	SkippedCount int            `json:"skippedCount"`
	LastNodeID   string         `json:"lastNodeId,omitempty"`
}

// TextEdit is a find/replace or mark mutation within one node's inline content.
type TextEdit struct {
	Find       string  `json:"find"`
	Replace    *string `json:"replace,omitempty"`
	AddMark    *Mark   `json:"addMark,omitempty"`
	RemoveMark string  `json:"removeMark,omitempty"`
}

// TextEditResult reports which edits of a call matched.
type TextEditResult struct {
	NodeID  string          `json:"nodeId"`
	Applied int             `json:"applied"`
	Missed  []string        `json:"missed,omitempty"`
	Ranges  []TextEditRange `json:"ranges,omitempty"`
	Change  *ChangeResult   `json:"change,omitempty"`
}

// PendingNode summarizes one pending leaf block for listings.
type PendingNode struct {
	ID      string        `json:"id"`
	Type    NodeType      `json:"type"`
	Status  PendingStatus `json:"status"`
	Text    string        `json:"text"`
	Ordinal int           `json:"ordinal"`

	// Original is the pre-rewrite text; empty unless Status is rewrite.
	Original string `json:"original,omitempty"`
}
