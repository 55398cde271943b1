package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func para(text string) *Node {
	return &Node{Type: TypeParagraph, Content: []*Node{{Type: TypeText, Text: text}}}
}

func TestNodeTypeKinds(t *testing.T) {
	tests := []struct {
		typ       NodeType
		leaf      bool
		container bool
		inline    bool
	}{
		{TypeParagraph, true, false, false},
		{TypeHorizontalRule, true, false, false},
		{TypeImage, true, false, false},
		{TypeBulletList, false, true, false},
		{TypeTableCell, false, true, false},
		{TypeText, false, false, true},
		{TypeHardBreak, false, false, true},
		{TypeDoc, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsLeafBlock(); got != tt.leaf {
				t.Errorf("IsLeafBlock() = %v", got)
			}
			if got := tt.typ.IsContainer(); got != tt.container {
				t.Errorf("IsContainer() = %v", got)
			}
			if got := tt.typ.IsInline(); got != tt.inline {
				t.Errorf("IsInline() = %v", got)
			}
			if got := tt.typ.IsBlock(); got != (tt.leaf || tt.container) {
				t.Errorf("IsBlock() = %v", got)
			}
		})
	}
}

func TestNodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    *Node
		wantErr bool
	}{
		{"paragraph", para("hello"), false},
		{"empty doc", &Node{Type: TypeDoc}, false},
		{"list", &Node{Type: TypeBulletList, Content: []*Node{
			{Type: TypeListItem, Content: []*Node{para("one")}},
		}}, false},
		{"text in container", &Node{Type: TypeBlockquote, Content: []*Node{{Type: TypeText, Text: "x"}}}, true},
		{"block in paragraph", &Node{Type: TypeParagraph, Content: []*Node{para("x")}}, true},
		{"block with text", &Node{Type: TypeHeading, Text: "x"}, true},
		{"text with children", &Node{Type: TypeText, Content: []*Node{{Type: TypeText}}}, true},
		{"rule with children", &Node{Type: TypeHorizontalRule, Content: []*Node{para("x")}}, true},
		{"bad status", &Node{Type: TypeParagraph, Attrs: &Attrs{PendingStatus: "moved"}}, true},
		{"unknown type", &Node{Type: "video"}, true},
		{"nil child", &Node{Type: TypeDoc, Content: []*Node{nil}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttrsPending(t *testing.T) {
	var nilAttrs *Attrs
	if nilAttrs.HasPending() {
		t.Error("nil attrs reported pending")
	}
	nilAttrs.ClearPending()

	a := &Attrs{ID: "b1", Level: 2, PendingStatus: StatusRewrite, PendingOriginalContent: para("old")}
	if !a.HasPending() {
		t.Fatal("HasPending() = false")
	}
	a.ClearPending()
	if a.HasPending() || a.ID != "b1" || a.Level != 2 {
		t.Errorf("ClearPending() left %+v", a)
	}

	n := &Node{Type: TypeParagraph}
	if n.Status() != StatusNone || n.ID() != "" {
		t.Error("bare node should have no id or status")
	}
	n.SetStatus(StatusInsert)
	if n.Status() != StatusInsert {
		t.Errorf("Status() = %q", n.Status())
	}
}

func TestNodeListUnmarshal(t *testing.T) {
	var single ChangeRequest
	if err := json.Unmarshal([]byte(`{"operation":"rewrite","nodeId":"b1","content":{"type":"paragraph"}}`), &single); err != nil {
		t.Fatal(err)
	}
	if len(single.Content) != 1 || single.Content[0].Type != TypeParagraph {
		t.Errorf("single node content = %+v", single.Content)
	}

	var many ChangeRequest
	if err := json.Unmarshal([]byte(`{"operation":"insert","afterNodeId":"end","content":[{"type":"paragraph"},{"type":"horizontalRule"}]}`), &many); err != nil {
		t.Fatal(err)
	}
	if len(many.Content) != 2 {
		t.Errorf("array content = %+v", many.Content)
	}

	var none ChangeRequest
	if err := json.Unmarshal([]byte(`{"operation":"delete","nodeId":"b1","content":null}`), &none); err != nil {
		t.Fatal(err)
	}
	if none.Content != nil {
		t.Errorf("null content = %+v", none.Content)
	}
}

func TestChangeRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChangeRequest
		wantErr bool
	}{
		{"insert after", ChangeRequest{Operation: OpInsert, AfterNodeID: "a", Content: NodeList{para("x")}}, false},
		{"insert placeholder", ChangeRequest{Operation: OpInsert, NodeID: "p", Content: NodeList{para("x")}}, false},
		{"insert both anchors", ChangeRequest{Operation: OpInsert, NodeID: "p", AfterNodeID: "a", Content: NodeList{para("x")}}, true},
		{"insert no anchor", ChangeRequest{Operation: OpInsert, Content: NodeList{para("x")}}, true},
		{"insert no content", ChangeRequest{Operation: OpInsert, AfterNodeID: "a"}, true},
		{"rewrite", ChangeRequest{Operation: OpRewrite, NodeID: "a", Content: NodeList{para("x")}}, false},
		{"rewrite no target", ChangeRequest{Operation: OpRewrite, Content: NodeList{para("x")}}, true},
		{"delete", ChangeRequest{Operation: OpDelete, NodeID: "a"}, false},
		{"delete no target", ChangeRequest{Operation: OpDelete}, true},
		{"unknown op", ChangeRequest{Operation: "move", NodeID: "a"}, true},
		{"inline content", ChangeRequest{Operation: OpRewrite, NodeID: "a", Content: NodeList{{Type: TypeText, Text: "x"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedChange) {
				t.Errorf("error %v does not wrap ErrMalformedChange", err)
			}
		})
	}
}

func TestDocumentString(t *testing.T) {
	d := NewDocument("doc1")
	if got := d.String(); got != "doc doc1" {
		t.Errorf("String() = %q", got)
	}
	d.Title = "Plan"
	d.Path = "plan.md"
	if got := d.String(); got != `doc doc1 "Plan" (plan.md)` {
		t.Errorf("String() = %q", got)
	}
}
