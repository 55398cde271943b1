package eventbus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewExternalHandler(t *testing.T) {
	cfg := ExternalHandlerConfig{
		ID:       "test-handler",
		Command:  "echo hello",
		Events:   []string{"ChangesApplied", "PendingResolved"},
		Priority: 25,
		Shell:    "bash",
	}

	h := NewExternalHandler(cfg)
	if h.ID() != "test-handler" {
		t.Errorf("expected ID 'test-handler', got %q", h.ID())
	}
	if h.Priority() != 25 {
		t.Errorf("expected priority 25, got %d", h.Priority())
	}
	if len(h.Handles()) != 2 {
		t.Fatalf("expected 2 event types, got %d", len(h.Handles()))
	}
	if h.Handles()[0] != EventChangesApplied {
		t.Errorf("expected first event ChangesApplied, got %s", h.Handles()[0])
	}
	if h.Config().Shell != "bash" {
		t.Errorf("Config().Shell = %q", h.Config().Shell)
	}
}

func TestNewExternalHandlerDefaults(t *testing.T) {
	h := NewExternalHandler(ExternalHandlerConfig{ID: "defaults", Command: "true"})
	if h.Priority() != 50 {
		t.Errorf("expected default priority 50, got %d", h.Priority())
	}
	if h.config.Shell != "sh" {
		t.Errorf("expected default shell 'sh', got %q", h.config.Shell)
	}
	if h.config.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", h.config.Timeout)
	}
	if len(h.Handles()) != len(AllEventTypes) {
		t.Errorf("handler without events should handle all, got %v", h.Handles())
	}
}

func TestExternalHandlerReceivesEventJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "event.json")
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "capture",
		Command: "cat > " + out,
	})

	event := &Event{Type: EventChangesApplied, DocID: "0a1b2c3d", Origin: "agent", Applied: 2, Skipped: 1}
	if err := h.Handle(context.Background(), event, &Result{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read captured event: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("captured event is not JSON: %v\n%s", err, data)
	}
	if got.Type != EventChangesApplied || got.DocID != "0a1b2c3d" || got.Applied != 2 || got.Skipped != 1 {
		t.Errorf("captured event = %+v", got)
	}
}

func TestExternalHandlerWarnings(t *testing.T) {
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "warn",
		Command: `echo '{"warnings":["review pending"]}'`,
	})
	result := &Result{}
	if err := h.Handle(context.Background(), &Event{Type: EventPendingResolved}, result); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != "review pending" {
		t.Errorf("warnings = %v", result.Warnings)
	}

	plain := NewExternalHandler(ExternalHandlerConfig{ID: "plain", Command: "echo not json"})
	result = &Result{}
	if err := plain.Handle(context.Background(), &Event{Type: EventPendingResolved}, result); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("plain output should be ignored, got %v", result.Warnings)
	}
}

func TestExternalHandlerFailure(t *testing.T) {
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "fail",
		Command: "echo boom >&2; exit 3",
	})
	err := h.Handle(context.Background(), &Event{Type: EventChangesApplied}, &Result{})
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(err.Error(), "exit 3") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v", err)
	}
}

func TestExternalHandlerTimeout(t *testing.T) {
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "slow",
		Command: "sleep 5",
		Timeout: 50 * time.Millisecond,
	})
	start := time.Now()
	if err := h.Handle(context.Background(), &Event{Type: EventChangesApplied}, &Result{}); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestExternalHandlersSkipsIncomplete(t *testing.T) {
	hs := ExternalHandlers([]ExternalHandlerConfig{
		{ID: "ok", Command: "true"},
		{ID: "", Command: "true"},
		{ID: "nocmd"},
	})
	if len(hs) != 1 || hs[0].ID() != "ok" {
		t.Errorf("handlers = %v", hs)
	}
}
