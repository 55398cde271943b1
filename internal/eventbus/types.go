package eventbus

import (
	"encoding/json"
	"time"

	"github.com/steveyegge/redline/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Document mutations.
	EventChangesApplied   EventType = "ChangesApplied"
	EventPendingResolved  EventType = "PendingResolved"
	EventDocumentReplaced EventType = "DocumentReplaced"

	// Document lifecycle.
	EventDocumentOpened EventType = "DocumentOpened"
	EventDocumentSaved  EventType = "DocumentSaved"

	// Dropped or refused work.
	EventSnapshotDropped EventType = "SnapshotDropped"
	EventPersistBlocked  EventType = "PersistBlocked"
)

// AllEventTypes lists every event type, for handlers that want everything.
var AllEventTypes = []EventType{
	EventChangesApplied, EventPendingResolved, EventDocumentReplaced,
	EventDocumentOpened, EventDocumentSaved,
	EventSnapshotDropped, EventPersistBlocked,
}

// IsMutation reports whether the event changes the document tree.
func (t EventType) IsMutation() bool {
	switch t {
	case EventChangesApplied, EventPendingResolved, EventDocumentReplaced:
		return true
	}
	return false
}

// Resolution actions carried by PendingResolved.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Event is one notification from the document store.
type Event struct {
	Type  EventType `json:"type"`
	DocID string    `json:"doc_id"`
	// Origin names the actor that caused the event: "agent", a session id,
	// "watch", or "cli".
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`

	// ChangesApplied
	Changes []types.ChangeResult `json:"changes,omitempty"`
	Applied int                  `json:"applied,omitempty"`
	Skipped int                  `json:"skipped,omitempty"`

	// PendingResolved
	Action   string   `json:"action,omitempty"`
	NodeIDs  []string `json:"node_ids,omitempty"`
	Resolved int      `json:"resolved,omitempty"`

	// DocumentOpened, DocumentReplaced, DocumentSaved
	Path     string          `json:"path,omitempty"`
	Document *types.Document `json:"document,omitempty"`
	// AssignedIDs counts blocks of a session snapshot that arrived without ids.
	AssignedIDs int `json:"assigned_ids,omitempty"`

	// SnapshotDropped, PersistBlocked
	Reason string `json:"reason,omitempty"`

	// Raw, when set, is what external handlers receive instead of the
	// marshaled event.
	Raw json.RawMessage `json:"-"`
}

// Result aggregates handler responses for an event.
type Result struct {
	Warnings []string `json:"warnings,omitempty"`
	// Delivered counts handlers that returned without error.
	Delivered int `json:"delivered,omitempty"`
}
