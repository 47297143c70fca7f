package ws

import (
	"strings"
	"testing"

	"github.com/chatrelay/internal/model"
)

func TestDecodeInboundMessagePost(t *testing.T) {
	in := DecodeInbound([]byte(`{"username":"bob","content":"hi"}`))
	if in.IsReaction() {
		t.Fatal("message post classified as reaction")
	}
	if in.Username != "bob" || in.Content != "hi" {
		t.Fatalf("decoded: %+v", in)
	}
}

func TestDecodeInboundReactionToggle(t *testing.T) {
	in := DecodeInbound([]byte(`{"type":"reaction","messageId":7,"emoji":"🎉","username":"bob"}`))
	if !in.IsReaction() {
		t.Fatal("reaction frame not classified")
	}
	if in.MessageID != 7 || in.Emoji != "🎉" || in.Username != "bob" {
		t.Fatalf("decoded: %+v", in)
	}
}

func TestDecodeInboundPlainTextFallback(t *testing.T) {
	for _, raw := range []string{"hello there", "not { json", "42 is the answer:"} {
		in := DecodeInbound([]byte(raw))
		if in.Content != raw {
			t.Fatalf("fallback for %q: %+v", raw, in)
		}
		if in.IsReaction() {
			t.Fatalf("fallback for %q classified as reaction", raw)
		}
	}
}

func TestEncodeMessageNullFields(t *testing.T) {
	m := &model.Message{ID: 1, Username: "bob", Content: model.OptString("hi"), Timestamp: 10}
	data, err := EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got := string(data)
	if want := `"image":null`; !strings.Contains(got, want) {
		t.Fatalf("absent image must serialize as null: %s", got)
	}
}

func TestEncodeReactionUpdateDiscriminant(t *testing.T) {
	m := &model.Message{ID: 1, Username: "bob", Content: model.OptString("hi")}
	data, err := EncodeReactionUpdate(m)
	if err != nil {
		t.Fatalf("EncodeReactionUpdate: %v", err)
	}
	if !strings.Contains(string(data), `"type":"reaction"`) {
		t.Fatalf("missing discriminant: %s", data)
	}
}
