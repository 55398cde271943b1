// Package redline provides a minimal public API for embedding the pending-change
// document engine or talking to a running `rl serve`.
//
// Most integrations should use the HTTP API. This package exports the types
// and constructors needed by Go programs that want to drive a document
// in-process or through the client.
package redline

import (
	"context"
	"time"

	"github.com/steveyegge/redline/internal/api"
	"github.com/steveyegge/redline/internal/lockfile"
	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
)

// Core document types
type (
	Node           = types.Node
	Attrs          = types.Attrs
	Mark           = types.Mark
	NodeType       = types.NodeType
	Document       = types.Document
	PendingStatus  = types.PendingStatus
	PendingNode    = types.PendingNode
	ChangeRequest  = types.ChangeRequest
	ChangeResult   = types.ChangeResult
	BatchResult    = types.BatchResult
	TextEdit       = types.TextEdit
	TextEditResult = types.TextEditResult
)

// Pending status constants
const (
	StatusNone    = types.StatusNone
	StatusInsert  = types.StatusInsert
	StatusRewrite = types.StatusRewrite
	StatusDelete  = types.StatusDelete
)

// Change operations
const (
	OpInsert  = types.OpInsert
	OpRewrite = types.OpRewrite
	OpDelete  = types.OpDelete
	EndNodeID = types.EndNodeID
)

// Errors callers can match with errors.Is.
var (
	ErrNodeNotFound       = types.ErrNodeNotFound
	ErrNoEditsApplied     = types.ErrNoEditsApplied
	ErrMalformedChange    = types.ErrMalformedChange
	ErrPersistenceBlocked = types.ErrPersistenceBlocked
)

// Store is an in-process document engine.
type (
	Store        = store.Store
	StoreOptions = store.Options
)

// NewStore returns a store holding an empty unsaved document.
func NewStore(opts StoreOptions) *Store {
	return store.New(opts)
}

// OpenFile returns a store with the Markdown file at path loaded.
func OpenFile(ctx context.Context, path string, opts StoreOptions) (*Store, error) {
	s := store.New(opts)
	if _, err := s.Open(ctx, path); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Client talks to a running `rl serve`.
type Client = api.Client

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL, token string) *Client {
	return api.NewClient(baseURL, token)
}

// FindServer returns a client for the server that holds the lock in stateDir,
// or nil when none is running.
func FindServer(ctx context.Context, stateDir, token string) *Client {
	info, running := lockfile.Probe(stateDir)
	if !running || info.Addr == "" {
		return nil
	}
	c, err := api.TryConnect(ctx, info.Addr, token, 2*time.Second)
	if err != nil {
		return nil
	}
	return c
}

// ParseMarkdown decodes a Markdown file (frontmatter included) into a document.
func ParseMarkdown(data []byte) (*Document, error) {
	res, err := mdstore.Decode(data, mdstore.Options{})
	if err != nil {
		return nil, err
	}
	return res.Doc, nil
}

// RenderMarkdown encodes doc as a Markdown file with YAML frontmatter.
func RenderMarkdown(doc *Document) ([]byte, error) {
	return mdstore.Encode(doc, mdstore.Options{})
}
