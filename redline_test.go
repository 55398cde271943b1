package redline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redline"
)

func TestOpenFileAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nFirst paragraph.\n"), 0o600))

	ctx := context.Background()
	s, err := redline.OpenFile(ctx, path, redline.StoreOptions{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	doc := s.Document()
	require.Len(t, doc.Root.Content, 2)
	first := doc.Root.Content[1].ID()

	res, err := s.ApplyChanges(ctx, []redline.ChangeRequest{{
		Operation:   redline.OpInsert,
		AfterNodeID: first,
		Content: []*redline.Node{{
			Type:    "paragraph",
			Content: []*redline.Node{{Type: "text", Text: "Added by an agent."}},
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCount)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, redline.StatusInsert, pending[0].Status)
}

func TestOpenFileMissing(t *testing.T) {
	_, err := redline.OpenFile(context.Background(), filepath.Join(t.TempDir(), "nope.md"), redline.StoreOptions{})
	assert.Error(t, err)
}

func TestMarkdownRoundTrip(t *testing.T) {
	doc, err := redline.ParseMarkdown([]byte("Hello *world*.\n"))
	require.NoError(t, err)
	require.NotEmpty(t, doc.DocID)

	out, err := redline.RenderMarkdown(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Hello _world_.")
	assert.Contains(t, string(out), doc.DocID)
}

func TestFindServerNone(t *testing.T) {
	assert.Nil(t, redline.FindServer(context.Background(), t.TempDir(), ""))
}
