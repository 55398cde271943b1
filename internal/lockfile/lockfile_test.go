//go:build unix

package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireWritesInfo(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, LockInfo{Addr: "127.0.0.1:7878", Version: "0.1.0"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	info, err := ReadLockInfo(dir)
	if err != nil {
		t.Fatalf("ReadLockInfo: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Addr != "127.0.0.1:7878" || info.Version != "0.1.0" {
		t.Errorf("info = %+v", info)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
}

func TestAcquireTwiceIsBusy(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, LockInfo{Addr: "a"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts
	if _, err := Acquire(dir, LockInfo{Addr: "b"}); !errors.Is(err, ErrLockBusy) {
		t.Errorf("second Acquire err = %v, want ErrLockBusy", err)
	}
}

func TestSetDocumentShrinks(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, LockInfo{Addr: "x", Document: "/a/very/long/path/to/a/document/file.md"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	if err := l.SetDocument("/b.md"); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("lock file not valid JSON after shorter rewrite: %v (%q)", err, data)
	}
	if info.Document != "/b.md" {
		t.Errorf("Document = %q", info.Document)
	}
}

func TestProbe(t *testing.T) {
	t.Run("no lock file", func(t *testing.T) {
		if _, running := Probe(t.TempDir()); running {
			t.Error("running with no lock file")
		}
	})

	t.Run("stale file not locked", func(t *testing.T) {
		dir := t.TempDir()
		data, _ := json.Marshal(LockInfo{PID: os.Getpid(), Addr: "x", StartedAt: time.Now()})
		if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, running := Probe(dir); running {
			t.Error("running for an unlocked file")
		}
	})

	t.Run("held", func(t *testing.T) {
		dir := t.TempDir()
		l, err := Acquire(dir, LockInfo{Addr: "127.0.0.1:9999", Document: "/doc.md"})
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		defer l.Release()

		info, running := Probe(dir)
		if !running {
			t.Fatal("not running while held")
		}
		if info.Addr != "127.0.0.1:9999" || info.Document != "/doc.md" {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("released", func(t *testing.T) {
		dir := t.TempDir()
		l, err := Acquire(dir, LockInfo{Addr: "x"})
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := l.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if _, running := Probe(dir); running {
			t.Error("running after Release")
		}
		if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
			t.Errorf("lock file still present: %v", err)
		}
	})
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("own process not running")
	}
	if isProcessRunning(0) || isProcessRunning(-1) {
		t.Error("invalid pid reported running")
	}
}
