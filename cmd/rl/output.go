package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/steveyegge/redline/internal/api"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// FatalError writes an error message to stderr and exits with code 1.
func FatalError(format string, args ...any) {
	closeBackend()
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// FatalErrorWithHint writes an error message with an actionable hint and exits.
func FatalErrorWithHint(message, hint string) {
	closeBackend()
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(1)
}

// WarnError writes a warning to stderr and returns.
func WarnError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// fail reports err in the requested output mode and exits. Known errors get
// a hint.
func fail(err error) {
	if jsonOutput {
		closeBackend()
		code := api.ErrorCode(err)
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Code != "" {
			code = apiErr.Code
		}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(api.ErrorResponse{Error: err.Error(), Code: code})
		os.Exit(1)
	}
	switch {
	case errors.Is(err, types.ErrNodeNotFound):
		FatalErrorWithHint(err.Error(), "List block ids with 'rl show --ids' or 'rl pending'")
	case errors.Is(err, types.ErrPersistenceBlocked):
		FatalErrorWithHint(err.Error(), "The write would erase most of the file; check 'rl versions' before retrying")
	case errors.Is(err, store.ErrNoPath):
		FatalErrorWithHint(err.Error(), "Open a file with 'rl open <path>' first")
	case errors.Is(err, fs.ErrNotExist):
		FatalErrorWithHint(err.Error(), "Create it with 'rl new <path>'")
	default:
		FatalError("%v", err)
	}
}
