package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExternalHandlerConfig is the serializable configuration for an external
// handler. Loaded from the "hooks" config key.
type ExternalHandlerConfig struct {
	ID       string        `json:"id" mapstructure:"id"`
	Command  string        `json:"command" mapstructure:"command"`             // Shell command to run
	Events   []string      `json:"events" mapstructure:"events"`               // Event types to handle; empty means all
	Priority int           `json:"priority,omitempty" mapstructure:"priority"` // Default 50
	Shell    string        `json:"shell,omitempty" mapstructure:"shell"`       // Default "sh"
	Timeout  time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`   // Default 10s
}

// ExternalHandler runs a shell command for each matching event.
//
// Protocol:
//   - Event JSON is passed on stdin
//   - Exit 0 = success; stdout, if it is a JSON object with "warnings", adds them
//   - Any other exit = error (logged, chain continues)
type ExternalHandler struct {
	config ExternalHandlerConfig
	events []EventType
}

// NewExternalHandler creates a handler from a config entry.
func NewExternalHandler(cfg ExternalHandlerConfig) *ExternalHandler {
	if cfg.Priority == 0 {
		cfg.Priority = 50
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	events := make([]EventType, len(cfg.Events))
	for i, e := range cfg.Events {
		events[i] = EventType(e)
	}
	if len(events) == 0 {
		events = AllEventTypes
	}
	return &ExternalHandler{
		config: cfg,
		events: events,
	}
}

func (h *ExternalHandler) ID() string           { return h.config.ID }
func (h *ExternalHandler) Handles() []EventType { return h.events }
func (h *ExternalHandler) Priority() int        { return h.config.Priority }

// Config returns the handler's configuration.
func (h *ExternalHandler) Config() ExternalHandlerConfig { return h.config }

func (h *ExternalHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	input := []byte(event.Raw)
	if len(input) == 0 {
		// Hooks get the event without the full document body.
		slim := *event
		slim.Document = nil
		var err error
		input, err = json.Marshal(&slim)
		if err != nil {
			return fmt.Errorf("external handler %s: marshal event: %w", h.config.ID, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.config.Shell, "-c", h.config.Command) // #nosec G204 - command comes from the user's config
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children of the shell may hold stdout open after a timeout kill
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return fmt.Errorf("external handler %s: exit %d: %s", h.config.ID, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("external handler %s: exec: %w", h.config.ID, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out != "" {
		var handlerResult Result
		// Output that isn't JSON is the hook's own logging.
		if json.Unmarshal([]byte(out), &handlerResult) == nil {
			result.Warnings = append(result.Warnings, handlerResult.Warnings...)
		}
	}
	return nil
}
