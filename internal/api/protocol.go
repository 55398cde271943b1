// Package api exposes the store over HTTP for the agent tool layer and the CLI,
// and provides the matching client.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
)

// HeaderActor names the caller recorded as the origin of resolutions.
const HeaderActor = "X-Redline-Actor"

// ChangesRequest is the body of POST /api/changes. A bare JSON array of
// requests is accepted too.
type ChangesRequest struct {
	Changes []types.ChangeRequest `json:"changes"`
}

func (r *ChangesRequest) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Changes)
	}
	type plain ChangesRequest
	return json.Unmarshal(data, (*plain)(r))
}

// TextEditsRequest is the body of POST /api/nodes/{id}/text-edits.
type TextEditsRequest struct {
	Edits []types.TextEdit `json:"edits"`
}

// OpenRequest is the body of POST /api/document/open. With Create set a new
// file is made at Path; with Temp set a scratch document is created and Path is
// ignored.
type OpenRequest struct {
	Path   string `json:"path,omitempty"`
	Title  string `json:"title,omitempty"`
	Create bool   `json:"create,omitempty"`
	Temp   bool   `json:"temp,omitempty"`
}

// ResolveResponse reports how many pending leaves were resolved.
type ResolveResponse struct {
	Resolved int `json:"resolved"`
}

// SaveResponse reports the outcome of POST /api/save.
type SaveResponse struct {
	Outcome string `json:"outcome"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Uptime   string `json:"uptime,omitempty"`
	Document string `json:"document,omitempty"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNodeNotFound   = "node_not_found"
	CodeNoEditsApplied = "no_edits_applied"
	CodeMalformed      = "malformed_change"
	CodeBlocked        = "persistence_blocked"
	CodeNoPath         = "no_path"
	CodeExists         = "exists"
	CodeNotFound       = "not_found"
	CodeUnauthorized   = "unauthorized"
	CodeInternal       = "internal"
)

var codeErrors = map[string]error{
	CodeNodeNotFound:   types.ErrNodeNotFound,
	CodeNoEditsApplied: types.ErrNoEditsApplied,
	CodeMalformed:      types.ErrMalformedChange,
	CodeBlocked:        types.ErrPersistenceBlocked,
	CodeNoPath:         store.ErrNoPath,
	CodeExists:         store.ErrExists,
	CodeNotFound:       fs.ErrNotExist,
}

// classify maps an error to an HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrNodeNotFound):
		return http.StatusNotFound, CodeNodeNotFound
	case errors.Is(err, types.ErrNoEditsApplied):
		return http.StatusUnprocessableEntity, CodeNoEditsApplied
	case errors.Is(err, types.ErrMalformedChange):
		return http.StatusBadRequest, CodeMalformed
	case errors.Is(err, types.ErrPersistenceBlocked):
		return http.StatusConflict, CodeBlocked
	case errors.Is(err, store.ErrNoPath):
		return http.StatusConflict, CodeNoPath
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict, CodeExists
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, CodeNotFound
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	_, code := classify(err)
	return code
}

// Error is a non-2xx response decoded by the client. It unwraps to the
// matching sentinel error when the server sent a known code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return codeErrors[e.Code]
}
