package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultMaxVersions is how many snapshots are kept per document.
const DefaultMaxVersions = 50

const versionExt = ".md"

// Version describes one stored snapshot.
type Version struct {
	ID    string    `json:"id"`
	DocID string    `json:"docId"`
	Time  time.Time `json:"time"`
	Size  int64     `json:"size"`
	Path  string    `json:"path"`
}

// Versions stores snapshots of overwritten document content under
// <Dir>/<docId>/<ulid>.md.
type Versions struct {
	Dir string
	Max int

	mu sync.Mutex
}

// NewVersions returns a store rooted at dir.
func NewVersions(dir string, max int) *Versions {
	if max <= 0 {
		max = DefaultMaxVersions
	}
	return &Versions{Dir: dir, Max: max}
}

// Save stores data as a new snapshot of docID and prunes the oldest ones beyond
// Max. It returns the new version id.
func (v *Versions) Save(docID string, data []byte) (string, error) {
	if docID == "" {
		return "", errors.New("save version: empty document id")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	dir := filepath.Join(v.Dir, docID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("save version: %w", err)
	}
	id := ulid.Make().String()
	if err := os.WriteFile(filepath.Join(dir, id+versionExt), data, 0o600); err != nil {
		return "", fmt.Errorf("save version: %w", err)
	}
	if err := v.prune(docID); err != nil {
		return id, fmt.Errorf("prune versions: %w", err)
	}
	return id, nil
}

// List returns the snapshots of docID, newest first.
func (v *Versions) List(docID string) ([]Version, error) {
	dir := filepath.Join(v.Dir, docID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	var out []Version
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, versionExt) {
			continue
		}
		id, err := ulid.ParseStrict(strings.TrimSuffix(name, versionExt))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Version{
			ID:    id.String(),
			DocID: docID,
			Time:  ulid.Time(id.Time()),
			Size:  info.Size(),
			Path:  filepath.Join(dir, name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Read returns the content of one snapshot.
func (v *Versions) Read(docID, id string) ([]byte, error) {
	if _, err := ulid.ParseStrict(id); err != nil {
		return nil, fmt.Errorf("read version %q: %w", id, err)
	}
	data, err := os.ReadFile(filepath.Join(v.Dir, docID, id+versionExt)) // #nosec G304 - id validated above
	if err != nil {
		return nil, fmt.Errorf("read version %s: %w", id, err)
	}
	return data, nil
}

// Since returns the snapshots of docID taken at or after t, newest first.
func (v *Versions) Since(docID string, t time.Time) ([]Version, error) {
	all, err := v.List(docID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ver := range all {
		if !ver.Time.Before(t) {
			out = append(out, ver)
		}
	}
	return out, nil
}

func (v *Versions) prune(docID string) error {
	all, err := v.List(docID)
	if err != nil {
		return err
	}
	if len(all) <= v.Max {
		return nil
	}
	var errs []error
	for _, old := range all[v.Max:] {
		if err := os.Remove(old.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
