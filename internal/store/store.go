// Package store holds the authoritative, append-only message sequence and
// their mutable reaction sets. It is the only writer of ids, timestamps and
// reaction mutations; all access is serialized so id assignment and toggles
// are linearizable.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

var (
	// ErrValidation is returned when a post carries neither content nor image.
	ErrValidation = errors.New("message must have either content or image")
	// ErrNotFound is returned for a reaction toggle against an unknown id.
	ErrNotFound = errors.New("message not found")
)

type Store struct {
	mu       sync.Mutex
	messages []*model.Message
	nextID   int64
	seq      int64
	snap     storage.Snapshotter

	// saveMu serializes snapshot writes; savedSeq tracks the newest
	// persisted document, so a save racing a later mutation's save can
	// never clobber it with stale state.
	saveMu   sync.Mutex
	savedSeq int64

	// now is overridable in tests to control assigned timestamps.
	now func() int64
}

// New loads the most recent snapshot from snap (if any), runs the schema
// upgrade step once, and returns a ready store.
func New(ctx context.Context, snap storage.Snapshotter) (*Store, error) {
	s := &Store{
		nextID: 1,
		snap:   snap,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	loaded, err := snap.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}
	if loaded != nil {
		loaded.Upgrade()
		s.messages = loaded.Messages
		s.nextID = loaded.NextID
	}
	return s, nil
}

// Append validates, assigns the next id and the current server timestamp,
// persists best-effort and returns the stored message.
func (s *Store) Append(ctx context.Context, username, content, image string) (*model.Message, error) {
	defer logger.DeferLogDuration("store.Append", time.Now())()
	if content == "" && image == "" {
		return nil, ErrValidation
	}
	if username == "" {
		username = model.AnonymousUsername
	}

	s.mu.Lock()
	m := &model.Message{
		ID:        s.nextID,
		Username:  username,
		Content:   model.OptString(content),
		Image:     model.OptString(image),
		Timestamp: s.now(),
		Reactions: make(map[string][]string),
	}
	s.nextID++
	s.messages = append(s.messages, m)
	s.seq++
	seq := s.seq
	doc := s.snapshotLocked()
	out := m.Clone()
	s.mu.Unlock()

	if err := s.persist(ctx, doc, seq); err != nil {
		logger.Errorf("store: snapshot save: %v", err)
	}
	return out, nil
}

// ToggleReaction flips username's membership in the emoji's reactor set and
// returns the updated message for rebroadcast.
func (s *Store) ToggleReaction(ctx context.Context, id int64, emoji, username string) (*model.Message, error) {
	defer logger.DeferLogDuration("store.ToggleReaction", time.Now())()
	s.mu.Lock()
	var target *model.Message
	for _, m := range s.messages {
		if m.ID == id {
			target = m
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	target.ToggleReaction(emoji, username)
	s.seq++
	seq := s.seq
	doc := s.snapshotLocked()
	out := target.Clone()
	s.mu.Unlock()

	if err := s.persist(ctx, doc, seq); err != nil {
		logger.Errorf("store: snapshot save: %v", err)
	}
	return out, nil
}

// All returns every message sorted ascending by timestamp, ties broken by id
// so repeated calls observe identical ordering.
func (s *Store) All() []*model.Message {
	s.mu.Lock()
	out := make([]*model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	s.mu.Unlock()

	sortMessages(out)
	return out
}

// After returns messages with timestamp strictly greater than ts, in the same
// order as All. Used for incremental catch-up.
func (s *Store) After(ts int64) []*model.Message {
	s.mu.Lock()
	out := make([]*model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Timestamp > ts {
			out = append(out, m.Clone())
		}
	}
	s.mu.Unlock()

	sortMessages(out)
	return out
}

// Flush rewrites the persisted snapshot. Invoked by the external scheduler on
// its interval and by process shutdown; the store itself holds no timers.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	seq := s.seq
	doc := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(ctx, doc, seq); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	return nil
}

// snapshotLocked builds a deep copy of the current state. Caller holds mu.
func (s *Store) snapshotLocked() *model.Snapshot {
	msgs := make([]*model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		msgs = append(msgs, m.Clone())
	}
	return &model.Snapshot{Version: model.SchemaVersion, Messages: msgs, NextID: s.nextID}
}

// persist writes doc unless a newer document has already been saved. Saves
// are serialized on saveMu, so concurrent mutations cannot persist out of
// mutation order; a doc older than the last saved one is skipped. Save
// failures never roll back the in-memory state.
func (s *Store) persist(ctx context.Context, doc *model.Snapshot, seq int64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq < s.savedSeq {
		return nil
	}
	if err := s.snap.Save(ctx, doc); err != nil {
		return err
	}
	s.savedSeq = seq
	return nil
}

func sortMessages(msgs []*model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}
