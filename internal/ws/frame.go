package ws

import (
	"encoding/json"

	"github.com/chatrelay/internal/model"
)

// TypeReaction is the discriminant value selecting the reaction frame variant
// in both directions. Frames without it are message posts.
const TypeReaction = "reaction"

// Inbound is the tagged union of client→server frames: a message post
// (username/content/image) or a reaction toggle (type + messageId + emoji).
type Inbound struct {
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`
	Image    string `json:"image,omitempty"`

	// Reaction toggle fields
	MessageID int64  `json:"messageId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// IsReaction reports whether the frame carries the reaction discriminant.
func (in Inbound) IsReaction() bool { return in.Type == TypeReaction }

// DecodeInbound parses a text frame. Payloads that are not a JSON object are
// treated as a plain-text message post — a non-empty raw string is never
// rejected outright.
func DecodeInbound(raw []byte) Inbound {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{Content: string(raw)}
	}
	return in
}

// ReactionUpdate is the server→client frame wrapping the full updated message
// after a reaction toggle.
type ReactionUpdate struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message"`
}

// EncodeMessage renders a server→client message frame: the bare message JSON,
// used both for history replay and live broadcast.
func EncodeMessage(m *model.Message) ([]byte, error) {
	return json.Marshal(m)
}

// EncodeReactionUpdate renders a discriminated reaction-update frame.
func EncodeReactionUpdate(m *model.Message) ([]byte, error) {
	return json.Marshal(ReactionUpdate{Type: TypeReaction, Message: m})
}
