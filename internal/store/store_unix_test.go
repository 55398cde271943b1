//go:build unix

package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
)

// releaseFIFO lets a reader blocked on the named pipe at path see EOF. It
// returns once the pipe is gone or a writer end was opened.
func releaseFIFO(path string) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fi, err := os.Lstat(path)
		if err != nil || fi.Mode()&os.ModeNamedPipe == 0 {
			return
		}
		if f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			_ = f.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMutationsDuringSlowWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slow.md")
	require.NoError(t, os.WriteFile(path, []byte("start\n"), 0o600))

	s := store.New(store.Options{Dir: filepath.Join(dir, "state"), FlushDebounce: 10 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	_, err := s.Open(ctx, path)
	require.NoError(t, err)
	anchor := firstID(s)

	// The scheduled write blocks reading the pipe until it is released.
	require.NoError(t, os.Remove(path))
	require.NoError(t, unix.Mkfifo(path, 0o600))
	t.Cleanup(func() { releaseFIFO(path) })

	insert := func(text string) []types.ChangeRequest {
		return []types.ChangeRequest{{Operation: types.OpInsert, AfterNodeID: anchor, Content: types.NodeList{para(text)}}}
	}
	_, err = s.ApplyChanges(ctx, insert("more"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 30; i++ {
			if _, err := s.ApplyChanges(ctx, insert(fmt.Sprintf("batch %d", i))); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		releaseFIFO(path)
		t.Fatal("agent batches blocked behind a slow disk write")
	}

	releaseFIFO(path)
	require.Eventually(t, func() bool {
		fi, err := os.Lstat(path)
		return err == nil && fi.Mode().IsRegular()
	}, 2*time.Second, 10*time.Millisecond)
}
