package idgen

import (
	"regexp"
	"testing"
)

func TestEncodeBase36Padding(t *testing.T) {
	tests := []struct {
		data   []byte
		length int
		want   string
	}{
		{[]byte{0}, 4, "0000"},
		{[]byte{35}, 2, "0z"},
		{[]byte{1, 0}, 3, "074"}, // 256 = 7*36 + 4
	}
	for _, tt := range tests {
		if got := EncodeBase36(tt.data, tt.length); got != tt.want {
			t.Errorf("EncodeBase36(%v, %d) = %q, want %q", tt.data, tt.length, got, tt.want)
		}
	}
}

func TestNewNodeIDShape(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-z]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewNodeID()
		if !re.MatchString(id) {
			t.Fatalf("NewNodeID() = %q, want 8 base36 chars", id)
		}
		if seen[id] {
			t.Fatalf("NewNodeID() repeated %q", id)
		}
		seen[id] = true
	}
}

func TestNewDocID(t *testing.T) {
	id := NewDocID()
	if !IsDocID(id) {
		t.Fatalf("NewDocID() = %q, want 8 hex chars", id)
	}
	if IsDocID("xyz") || IsDocID("0123456g") {
		t.Error("IsDocID accepted a malformed id")
	}
}

func TestSequence(t *testing.T) {
	s := &Sequence{Prefix: "p"}
	if got := s.NewID(); got != "p1" {
		t.Errorf("first id = %q, want p1", got)
	}
	if got := s.NewID(); got != "p2" {
		t.Errorf("second id = %q, want p2", got)
	}
}

func TestGenerateHashIDStable(t *testing.T) {
	a := GenerateHashID("", "hello", 8, 0)
	b := GenerateHashID("", "hello", 8, 0)
	c := GenerateHashID("", "hello", 8, 1)
	if a != b {
		t.Errorf("same input gave %q and %q", a, b)
	}
	if a == c {
		t.Errorf("nonce did not change id: %q", a)
	}
	if len(a) != 8 {
		t.Errorf("len = %d, want 8", len(a))
	}
	if got := GenerateHashID("doc", "hello", 4, 0); len(got) != len("doc-")+4 {
		t.Errorf("prefixed id %q has wrong length", got)
	}
}
