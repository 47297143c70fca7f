package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chatrelay/internal/client"
	"github.com/chatrelay/internal/model"
)

func TestPrinterRendersNewMessages(t *testing.T) {
	var buf bytes.Buffer
	msgs := []client.LocalMessage{
		{Message: model.Message{ID: 1, Username: "bob", Content: model.OptString("hi"), Timestamp: 100}, IsSent: true},
		{Message: model.Message{ID: 2, Username: "eve", Image: model.OptString("data:image/png;base64,x"), Timestamp: 200}},
	}
	p := &printer{out: &buf, source: func() []client.LocalMessage { return msgs }, rendered: make(map[int64]string)}

	p.print()
	got := buf.String()
	if !strings.Contains(got, "#1 bob (you): hi") {
		t.Fatalf("own message not rendered: %q", got)
	}
	if !strings.Contains(got, "#2 eve: [image]") {
		t.Fatalf("image message not rendered: %q", got)
	}

	// Nothing changed: a second pass prints nothing.
	buf.Reset()
	p.print()
	if buf.Len() != 0 {
		t.Fatalf("unchanged view reprinted: %q", buf.String())
	}
}

func TestPrinterReprintsReactionChanges(t *testing.T) {
	var buf bytes.Buffer
	msgs := []client.LocalMessage{
		{Message: model.Message{ID: 1, Username: "bob", Content: model.OptString("hi"), Timestamp: 100}},
	}
	p := &printer{out: &buf, source: func() []client.LocalMessage { return msgs }, rendered: make(map[int64]string)}
	p.print()

	buf.Reset()
	msgs[0].Reactions = map[string][]string{"🎉": {"eve"}}
	p.print()
	if got := buf.String(); got != "#1 reactions: 🎉 eve\n" {
		t.Fatalf("reaction add not rendered: %q", got)
	}

	buf.Reset()
	msgs[0].Reactions = nil
	p.print()
	if got := buf.String(); got != "#1 reactions: none\n" {
		t.Fatalf("reaction removal not rendered: %q", got)
	}
}

func TestReactionSummaryStableOrder(t *testing.T) {
	got := reactionSummary(map[string][]string{
		"👍": {"bob", "eve"},
		"🎉": {"alice"},
	})
	if got != "🎉 alice; 👍 bob,eve" {
		t.Fatalf("summary = %q", got)
	}
	if reactionSummary(nil) != "" {
		t.Fatal("empty map must render empty")
	}
}

func TestHandleLine(t *testing.T) {
	rec := client.New(client.Options{URL: "ws://unused.invalid/chat"})
	if !handleLine(rec, "/quit") {
		t.Fatal("/quit must exit")
	}
	if handleLine(rec, "") {
		t.Fatal("blank line must not exit")
	}
	if handleLine(rec, "/react 1 🎉") {
		t.Fatal("/react must not exit")
	}
	if handleLine(rec, "hello") {
		t.Fatal("message send must not exit")
	}
}
