package eventbus

import (
	"context"
	"log/slog"
)

// LogHandler writes every event to a structured logger at debug level, and
// dropped or blocked work at warn level. Priority 100 (runs last).
type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) ID() string           { return "log" }
func (h *LogHandler) Handles() []EventType { return AllEventTypes }
func (h *LogHandler) Priority() int        { return 100 }

func (h *LogHandler) Handle(ctx context.Context, event *Event, _ *Result) error {
	if h.Logger == nil {
		return nil
	}
	attrs := []any{"doc", event.DocID, "origin", event.Origin}
	switch event.Type {
	case EventChangesApplied:
		attrs = append(attrs, "applied", event.Applied, "skipped", event.Skipped)
	case EventPendingResolved:
		attrs = append(attrs, "action", event.Action, "resolved", event.Resolved)
	case EventDocumentOpened, EventDocumentSaved:
		attrs = append(attrs, "path", event.Path)
	case EventSnapshotDropped, EventPersistBlocked:
		h.Logger.WarnContext(ctx, string(event.Type), append(attrs, "reason", event.Reason)...)
		return nil
	}
	h.Logger.DebugContext(ctx, string(event.Type), attrs...)
	return nil
}

// DefaultHandlers returns the built-in handlers registered on every bus.
func DefaultHandlers(logger *slog.Logger) []Handler {
	return []Handler{&LogHandler{Logger: logger}}
}

// ExternalHandlers builds handlers from config entries, skipping entries
// without an id or command.
func ExternalHandlers(cfgs []ExternalHandlerConfig) []Handler {
	var out []Handler
	for _, c := range cfgs {
		if c.ID == "" || c.Command == "" {
			continue
		}
		out = append(out, NewExternalHandler(c))
	}
	return out
}
