package model

import "testing"

func TestToggleReactionAddRemove(t *testing.T) {
	m := &Message{ID: 1, Username: "bob", Reactions: make(map[string][]string)}

	m.ToggleReaction("👍", "alice")
	if got := m.Reactions["👍"]; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("after first toggle: %v", m.Reactions)
	}

	m.ToggleReaction("👍", "alice")
	if _, ok := m.Reactions["👍"]; ok {
		t.Fatalf("emoji key must be deleted when last reactor leaves: %v", m.Reactions)
	}
}

func TestToggleReactionKeepsOtherReactors(t *testing.T) {
	m := &Message{ID: 1, Reactions: make(map[string][]string)}
	m.ToggleReaction("🎉", "alice")
	m.ToggleReaction("🎉", "bob")
	m.ToggleReaction("🎉", "alice")

	got := m.Reactions["🎉"]
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected bob to remain: %v", m.Reactions)
	}
}

func TestToggleReactionNilMap(t *testing.T) {
	m := &Message{ID: 1}
	m.ToggleReaction("👍", "alice")
	if got := m.Reactions["👍"]; len(got) != 1 {
		t.Fatalf("toggle on nil map: %v", m.Reactions)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := &Message{ID: 1, Reactions: map[string][]string{"👍": {"alice"}}}
	cp := m.Clone()
	cp.ToggleReaction("👍", "bob")
	if len(m.Reactions["👍"]) != 1 {
		t.Fatalf("clone shares reaction map with original: %v", m.Reactions)
	}
}

func TestSnapshotUpgradeLegacyRecords(t *testing.T) {
	snap := &Snapshot{
		Messages: []*Message{
			{ID: 3, Content: OptString("hi"), Timestamp: 100},
			{ID: 7, Username: "bob", Content: OptString("yo"), Timestamp: 200},
		},
	}
	snap.Upgrade()

	if snap.Messages[0].Username != AnonymousUsername {
		t.Fatalf("missing username not defaulted: %q", snap.Messages[0].Username)
	}
	if snap.Messages[0].Reactions == nil || snap.Messages[1].Reactions == nil {
		t.Fatal("missing reactions not defaulted to empty map")
	}
	if snap.NextID != 8 {
		t.Fatalf("NextID not recomputed from max id: %d", snap.NextID)
	}
	if snap.Version != SchemaVersion {
		t.Fatalf("version not stamped: %d", snap.Version)
	}
}

func TestSnapshotUpgradeEmpty(t *testing.T) {
	snap := &Snapshot{}
	snap.Upgrade()
	if snap.NextID != 1 {
		t.Fatalf("empty snapshot must start ids at 1, got %d", snap.NextID)
	}
}

func TestOptStringRoundTrip(t *testing.T) {
	if OptString("") != nil {
		t.Fatal("empty string must map to nil")
	}
	if got := Deref(OptString("x")); got != "x" {
		t.Fatalf("Deref(OptString) = %q", got)
	}
	if got := Deref(nil); got != "" {
		t.Fatalf("Deref(nil) = %q", got)
	}
}
