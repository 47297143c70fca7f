package model

// SchemaVersion is the current snapshot document version. Version 0 documents
// predate usernames and reactions and are upgraded once at store load.
const SchemaVersion = 1

// Snapshot is the full persisted store state. It is rewritten wholesale on
// every save; the in-memory store remains the source of truth.
type Snapshot struct {
	Version  int        `json:"version,omitempty"`
	Messages []*Message `json:"messages"`
	NextID   int64      `json:"nextId"`
}

// Upgrade migrates a loaded snapshot to the current schema in place:
// records missing a username get the anonymous sentinel, nil reaction maps
// become empty, and NextID is recomputed when it lags behind the stored ids.
func (s *Snapshot) Upgrade() {
	maxID := int64(0)
	for _, m := range s.Messages {
		if m.Username == "" {
			m.Username = AnonymousUsername
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	if s.NextID <= maxID {
		s.NextID = maxID + 1
	}
	if s.NextID < 1 {
		s.NextID = 1
	}
	s.Version = SchemaVersion
}
