package model

// AnonymousUsername is substituted when a client posts without a username.
const AnonymousUsername = "Anonymous"

// Message is one entry in the shared conversation. The core fields are
// immutable once assigned by the store; only Reactions mutate afterwards.
// Content and Image are pointers so that absent values round-trip as JSON
// null, matching the wire contract.
type Message struct {
	ID        int64               `json:"id"`
	Username  string              `json:"username"`
	Content   *string             `json:"content"`
	Image     *string             `json:"image"`
	Timestamp int64               `json:"timestamp"` // ms since epoch, server-assigned
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// OptString maps "" to nil so empty fields serialize as null.
func OptString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref maps nil back to "".
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Clone returns a deep copy so callers can hand messages across goroutine
// boundaries without sharing the reaction map.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			cp.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	return &cp
}

// ToggleReaction flips membership of username in the reactor set for emoji.
// Removing the last reactor deletes the emoji key entirely; no empty sets
// persist. Toggling twice restores the original state.
func (m *Message) ToggleReaction(emoji, username string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == username {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return
		}
	}
	m.Reactions[emoji] = append(users, username)
}
