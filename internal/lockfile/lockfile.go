// Package lockfile marks a running server so that other invocations can find
// it and route through its API instead of editing the file directly.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the lock file inside the state directory.
const FileName = "serve.lock"

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("lock already held by another process")

// LockInfo is the JSON content of the lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	Document  string    `json:"document,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held serve lock.
type Lock struct {
	mu   sync.Mutex
	f    *os.File
	path string
	info LockInfo
}

// Acquire takes the exclusive lock in dir and writes info into it. PID and
// StartedAt are filled in when zero.
func Acquire(dir string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 - fixed name under the state dir
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := flockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	l := &Lock{f: f, path: path, info: info}
	if err := l.write(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

// Info returns what the lock file currently says.
func (l *Lock) Info() LockInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

// SetDocument records the document the server is editing.
func (l *Lock) SetDocument(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.Document = path
	return l.write()
}

// SetAddr records the address the server listens on.
func (l *Lock) SetAddr(addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.Addr = addr
	return l.write()
}

func (l *Lock) write() error {
	data, err := json.Marshal(l.info)
	if err != nil {
		return fmt.Errorf("encode lock info: %w", err)
	}
	// The lock is on this descriptor, so rewrite in place rather than rename.
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", l.path, err)
	}
	if _, err := l.f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	return l.f.Sync()
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	_ = flockUnlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadLockInfo reads the lock file in dir without checking whether it is held.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName)) // #nosec G304 - fixed name under the state dir
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &info, nil
}

// Probe reports whether a server holds the lock in dir, and what it wrote.
// A lock file left behind by a dead process reports not running.
func Probe(dir string) (*LockInfo, bool) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path) // #nosec G304 - fixed name under the state dir
	if err != nil {
		return nil, false
	}
	defer f.Close()

	if err := flockSharedNonBlock(f); err == nil {
		// Nobody holds it exclusively.
		_ = flockUnlock(f)
		return nil, false
	} else if !errors.Is(err, ErrLockBusy) {
		return nil, false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, true
	}
	var info LockInfo
	if json.Unmarshal(data, &info) != nil {
		return nil, true
	}
	if !isProcessRunning(info.PID) {
		return &info, false
	}
	return &info, true
}
