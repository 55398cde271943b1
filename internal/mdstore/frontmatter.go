package mdstore

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

// pendingEntry is the persisted pending state of one leaf block. Entries are
// keyed by the leaf's ordinal among the leaves that survive a round trip.
type pendingEntry struct {
	Status   types.PendingStatus   `yaml:"s" toml:"s"`
	Original *types.Node           `yaml:"o,omitempty" toml:"o,omitempty"`
	Text     string                `yaml:"t,omitempty" toml:"t,omitempty"`
	Edits    []types.TextEditRange `yaml:"e,omitempty" toml:"e,omitempty"`
}

type frontmatter struct {
	Title         string                  `yaml:"title,omitempty" toml:"title,omitempty"`
	DocID         string                  `yaml:"doc_id,omitempty" toml:"doc_id,omitempty"`
	IDs           []string                `yaml:"ids,omitempty,flow" toml:"ids,omitempty"`
	Pending       map[string]pendingEntry `yaml:"pending,omitempty" toml:"pending,omitempty"`
	PendingBlocks map[string]*types.Node  `yaml:"pending_blocks,omitempty" toml:"pending_blocks,omitempty"`

	Extra map[string]any `yaml:"-" toml:"-"`
}

var (
	yamlFence = []byte("---")
	tomlFence = []byte("+++")
	bom       = []byte("\xef\xbb\xbf")
)

// splitFrontmatter separates a leading frontmatter block from the body. A file
// whose opening fence is never closed has no frontmatter.
func splitFrontmatter(data []byte) (fm, body []byte, format Format, err error) {
	data = bytes.TrimPrefix(data, bom)
	first, rest, ok := cutLine(data)
	if !ok {
		return nil, data, "", nil
	}
	var fence []byte
	switch {
	case bytes.Equal(first, yamlFence):
		fence, format = yamlFence, FormatYAML
	case bytes.Equal(first, tomlFence):
		fence, format = tomlFence, FormatTOML
	default:
		return nil, data, "", nil
	}

	offset := 0
	for offset <= len(rest) {
		line, next, more := cutLine(rest[offset:])
		if bytes.Equal(line, fence) || (format == FormatYAML && bytes.Equal(line, []byte("..."))) {
			return rest[:offset], next, format, nil
		}
		if !more {
			break
		}
		offset = len(rest) - len(next)
	}
	return nil, data, "", nil
}

// cutLine splits off the first line, dropping its terminator. ok is false when
// data has no line terminator.
func cutLine(data []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return bytes.TrimRight(data, "\r"), nil, false
	}
	return bytes.TrimRight(data[:i], "\r"), data[i+1:], true
}

func parseFrontmatter(fm []byte, format Format) (frontmatter, error) {
	meta := frontmatter{Extra: map[string]any{}}
	if len(bytes.TrimSpace(fm)) == 0 {
		return meta, nil
	}

	raw := map[string]any{}
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(fm, &raw); err != nil {
			return meta, err
		}
		if err := toml.Unmarshal(fm, &meta); err != nil {
			return meta, err
		}
	default:
		if err := yaml.Unmarshal(fm, &raw); err != nil {
			return meta, err
		}
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return meta, err
		}
	}

	meta.Extra = map[string]any{}
	for k, v := range raw {
		if !reserved(k) {
			meta.Extra[k] = v
		}
	}
	return meta, nil
}

func renderFrontmatter(meta frontmatter, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if format == FormatTOML {
		merged := map[string]any{}
		for k, v := range meta.Extra {
			if !reserved(k) && v != nil {
				merged[k] = v
			}
		}
		if meta.Title != "" {
			merged[keyTitle] = meta.Title
		}
		if meta.DocID != "" {
			merged[keyDocID] = meta.DocID
		}
		if len(meta.IDs) > 0 {
			merged[keyIDs] = meta.IDs
		}
		if len(meta.Pending) > 0 {
			merged[keyPending] = meta.Pending
		}
		if len(meta.PendingBlocks) > 0 {
			merged[keyPendingBlocks] = meta.PendingBlocks
		}

		buf.WriteString("+++\n")
		enc := toml.NewEncoder(&buf)
		enc.Indent = ""
		if err := enc.Encode(merged); err != nil {
			return nil, err
		}
		buf.WriteString("+++\n")
		return buf.Bytes(), nil
	}

	// Title and id first, then user metadata, then engine state.
	head := struct {
		Title string `yaml:"title,omitempty"`
		DocID string `yaml:"doc_id,omitempty"`
	}{meta.Title, meta.DocID}
	extra := map[string]any{}
	for k, v := range meta.Extra {
		if !reserved(k) {
			extra[k] = v
		}
	}
	state := frontmatter{IDs: meta.IDs, Pending: meta.Pending, PendingBlocks: meta.PendingBlocks}

	buf.WriteString("---\n")
	for _, section := range []any{head, extra, state} {
		out, err := yamlSection(section)
		if err != nil {
			return nil, err
		}
		buf.Write(out)
	}
	buf.WriteString("---\n")
	return buf.Bytes(), nil
}

func yamlSection(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(buf.Bytes()), []byte("{}")) {
		return nil, nil
	}
	return buf.Bytes(), nil
}

const fingerprintRunes = 48

// fingerprint identifies a leaf's text well enough to re-find it after the
// block structure shifted.
func fingerprint(n *types.Node) string {
	r := []rune(tree.Text(n))
	if len(r) > fingerprintRunes {
		r = r[:fingerprintRunes]
	}
	return string(r)
}

// encodePending collects the pending state of every surviving leaf.
func encodePending(root *types.Node) map[string]pendingEntry {
	out := map[string]pendingEntry{}
	ordinal := 0
	for _, s := range survivors(root) {
		if !s.leaf {
			continue
		}
		if s.node != nil && s.node.Attrs.HasPending() {
			a := s.node.Attrs
			out[strconv.Itoa(ordinal)] = pendingEntry{
				Status:   a.PendingStatus,
				Original: a.PendingOriginalContent,
				Text:     fingerprint(s.node),
				Edits:    a.PendingTextEdits,
			}
		}
		ordinal++
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// encodePendingBlocks collects the baselines held by containers.
func encodePendingBlocks(root *types.Node) map[string]*types.Node {
	out := map[string]*types.Node{}
	for _, s := range survivors(root) {
		if s.node == nil || s.leaf || s.node.Attrs == nil || s.node.Attrs.PendingOriginalContent == nil {
			continue
		}
		out[s.id] = s.node.Attrs.PendingOriginalContent
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// applyPending restores persisted pending state onto the leaves of a decoded
// tree. An entry whose ordinal no longer holds matching text is moved to the
// nearest unclaimed leaf with that text. It returns the number of entries that
// found no home.
func applyPending(root *types.Node, entries map[string]pendingEntry) int {
	if len(entries) == 0 {
		return 0
	}
	leaves := tree.LeafBlocks(root)
	claimed := make([]bool, len(leaves))

	type keyed struct {
		ordinal int
		entry   pendingEntry
	}
	var ordered []keyed
	lost := 0
	for k, e := range entries {
		ord, err := strconv.Atoi(k)
		if err != nil || ord < 0 || !e.Status.IsValid() || e.Status == types.StatusNone {
			lost++
			continue
		}
		ordered = append(ordered, keyed{ord, e})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ordinal < ordered[j].ordinal })

	for _, k := range ordered {
		i := nearest(leaves, claimed, k.ordinal, k.entry.Text)
		if i < 0 {
			lost++
			continue
		}
		claimed[i] = true
		a := leaves[i].EnsureAttrs()
		a.PendingStatus = k.entry.Status
		a.PendingOriginalContent = k.entry.Original
		a.PendingTextEdits = k.entry.Edits
	}
	return lost
}

func nearest(leaves []*types.Node, claimed []bool, at int, text string) int {
	match := func(i int) bool {
		return i >= 0 && i < len(leaves) && !claimed[i] && fingerprint(leaves[i]) == text
	}
	for d := 0; d <= at+len(leaves); d++ {
		if match(at - d) {
			return at - d
		}
		if d > 0 && match(at+d) {
			return at + d
		}
	}
	return -1
}
