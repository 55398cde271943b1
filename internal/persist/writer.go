package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/redline/internal/types"
)

// Outcome reports what Write did.
type Outcome int

const (
	Written Outcome = iota
	SkippedIdentical
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Written:
		return "written"
	case SkippedIdentical:
		return "identical"
	case Blocked:
		return "blocked"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ShrinkGuard refuses writes that would replace a large file with drastically
// smaller content.
type ShrinkGuard struct {
	// MinBytes is the existing size below which the guard never trips.
	MinBytes int
	// Ratio is the new/old size ratio below which a write is refused.
	Ratio float64
}

// DefaultShrinkGuard trips when a file of at least 512 bytes would shrink below
// a fifth of its size.
var DefaultShrinkGuard = ShrinkGuard{MinBytes: 512, Ratio: 0.2}

// Trips reports whether replacing old with new should be refused.
func (g ShrinkGuard) Trips(oldSize, newSize int) bool {
	if g.MinBytes <= 0 || g.Ratio <= 0 || oldSize < g.MinBytes {
		return false
	}
	return float64(newSize) < g.Ratio*float64(oldSize)
}

// Writer performs guarded atomic writes.
type Writer struct {
	Guard    ShrinkGuard
	Versions *Versions
	Logger   *slog.Logger
	// MaxRetry bounds how long a transient write failure is retried.
	MaxRetry time.Duration
}

const writeRetryMaxElapsed = 2 * time.Second

func (w *Writer) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.Logger
}

func (w *Writer) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = w.MaxRetry
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = writeRetryMaxElapsed
	}
	return bo
}

// Write stores data at path. It skips writes identical to the file on disk and
// refuses destructive shrinks unless hasPending is set. The previous content is
// saved as a version first; a version failure is logged and does not stop the
// write.
func (w *Writer) Write(ctx context.Context, path, docID string, data []byte, hasPending bool) (Outcome, error) {
	existing, err := os.ReadFile(path) // #nosec G304 - document path chosen by the user
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	if existing != nil && bytes.Equal(existing, data) {
		return SkippedIdentical, nil
	}

	if !hasPending && w.Guard.Trips(len(existing), len(data)) {
		w.logger().Warn("refusing destructive overwrite",
			"path", path, "old_bytes", len(existing), "new_bytes", len(data))
		return Blocked, fmt.Errorf("%s shrinks from %d to %d bytes: %w",
			path, len(existing), len(data), types.ErrPersistenceBlocked)
	}

	if len(existing) > 0 && w.Versions != nil {
		if id, err := w.Versions.Save(docID, existing); err != nil {
			w.logger().Warn("version snapshot failed", "doc", docID, "error", err)
		} else {
			w.logger().Debug("version snapshot saved", "doc", docID, "version", id)
		}
	}

	err = backoff.Retry(func() error {
		return writeAtomic(path, data)
	}, backoff.WithContext(w.newBackoff(), ctx))
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return Written, nil
}

// writeAtomic writes data to a temp file beside path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return backoff.Permanent(fmt.Errorf("create directory: %w", err))
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmp = nil

	// nolint:gosec // G302: documents are meant to be readable by other tools
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
