package file

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chatrelay/internal/model"
)

func TestLoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "chat.db.json"))
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Fatalf("missing file must yield nil snapshot, got %+v", snap)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db.json")
	s := New(path)
	ctx := context.Background()

	in := &model.Snapshot{
		Version: model.SchemaVersion,
		Messages: []*model.Message{
			{
				ID:        1,
				Username:  "bob",
				Content:   model.OptString("hi"),
				Timestamp: 1234,
				Reactions: map[string][]string{"🎉": {"alice"}},
			},
		},
		NextID: 2,
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil || len(out.Messages) != 1 || out.NextID != 2 {
		t.Fatalf("round trip lost data: %+v", out)
	}
	m := out.Messages[0]
	if m.Username != "bob" || model.Deref(m.Content) != "hi" || m.Image != nil {
		t.Fatalf("message fields: %+v", m)
	}
	if got := m.Reactions["🎉"]; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("reactions: %v", m.Reactions)
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db.json")
	s := New(path)
	ctx := context.Background()

	if err := s.Save(ctx, &model.Snapshot{NextID: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, &model.Snapshot{NextID: 9}); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.NextID != 9 {
		t.Fatalf("NextID = %d, want 9 (full rewrite)", out.NextID)
	}
}
