// Package event defines the outbound event envelope and the destination
// addressing model shared by the message pipeline, presence tracker, and
// event dispatcher. Events are ephemeral: they are serialized once, fanned
// out to live connections, and never stored.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types delivered to clients. The type string doubles as the wire
// discriminator in the serialized envelope.
const (
	TypeMessageNew     = "message.new"
	TypeMessageEdited  = "message.edited"
	TypeMessageDeleted = "message.deleted"
	TypePresence       = "presence.changed"
	TypeTypingStart    = "typing.start"
	TypeTypingStop     = "typing.stop"
	TypeMemberJoined   = "channel.member_joined"
	TypeMemberLeft     = "channel.member_left"
	TypeReaction       = "reaction.updated"
)

// Event is the envelope handed to the dispatcher. Payload holds one of the
// *Payload structs below and is marshalled inline under the "payload" key.
type Event struct {
	Type        string      `json:"type"`
	Destination Destination `json:"destination"`
	SenderID    string      `json:"sender_id"`
	Ts          int64       `json:"ts"`
	Payload     interface{} `json:"payload"`
}

// New builds an event stamped with the current time.
func New(typ string, dest Destination, senderID string, payload interface{}) Event {
	return Event{
		Type:        typ,
		Destination: dest,
		SenderID:    senderID,
		Ts:          time.Now().Unix(),
		Payload:     payload,
	}
}

// Encode serializes the event for delivery. The dispatcher encodes once per
// event and reuses the bytes for every recipient connection.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", e.Type, err)
	}
	return data, nil
}

// Header carries the routing fields of a serialized event without decoding
// the payload. The cross-instance bridge peeks at the header to resolve
// recipients and forwards the original bytes untouched.
type Header struct {
	Type        string      `json:"type"`
	Destination Destination `json:"destination"`
	SenderID    string      `json:"sender_id"`
}

// DecodeHeader extracts the routing header from serialized event bytes.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("event: decode header: %w", err)
	}
	if h.Type == "" {
		return Header{}, fmt.Errorf("event: missing type in envelope")
	}
	return h, nil
}

// MessageNewPayload announces a newly persisted message.
type MessageNewPayload struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	ReplyTo *int64 `json:"reply_to,omitempty"`
}

// MessageEditedPayload announces an in-place edit of a delivered message.
type MessageEditedPayload struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	EditedAt int64  `json:"edited_at"`
}

// MessageDeletedPayload announces a soft delete.
type MessageDeletedPayload struct {
	ID            int64 `json:"id"`
	DeletedForAll bool  `json:"deleted_for_all"`
}

// PresencePayload announces a user's presence transition.
type PresencePayload struct {
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	CustomStatus string `json:"custom_status,omitempty"`
}

// TypingPayload carries a typing indicator. UserID is always the typist.
type TypingPayload struct {
	UserID string `json:"user_id"`
}

// MemberPayload announces a channel membership change.
type MemberPayload struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// ReactionPayload carries the recomputed reaction counts for a message.
type ReactionPayload struct {
	MessageID int64          `json:"message_id"`
	Counts    map[string]int `json:"counts"`
}
