package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Bus dispatches events to registered handlers in-process.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	log      *slog.Logger
}

// New creates a new event bus. A nil logger discards handler errors.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{log: logger}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unregister removes every handler with the given id. It reports whether any
// was removed.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.handlers[:0]
	removed := false
	for _, h := range b.handlers {
		if h.ID() == id {
			removed = true
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(b.handlers); i++ {
		b.handlers[i] = nil
	}
	b.handlers = kept
	return removed
}

// Dispatch sends an event to all registered handlers that handle its type.
// Handlers are called sequentially in priority order (lowest first).
// Handler errors are logged and collected as warnings; they do not stop the
// chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	result := &Result{}
	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event, result); err != nil {
			b.log.Warn("event handler failed", "handler", h.ID(), "event", event.Type, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", h.ID(), err))
			continue
		}
		result.Delivered++
	}
	return result, nil
}

// Handlers returns all registered handlers (for introspection/status reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers that handle the given event type, sorted
// by priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
