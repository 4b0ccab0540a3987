// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. Server-initiated events use the event package encoding;
// this package covers client requests and the server's direct responses.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nexa/messenger/internal/event"
)

// Client -> Server message types.
const (
	TypeSendMessage    = "send_message"
	TypeEditMessage    = "edit_message"
	TypeDeleteMessage  = "delete_message"
	TypeAddReaction    = "add_reaction"
	TypeSetStatus      = "set_status"
	TypeTyping         = "typing"
	TypeJoinChannel    = "join_channel"
	TypeLeaveChannel   = "leave_channel"
	TypeUpdateSettings = "update_settings"
	TypeHistory        = "history"
	TypePing           = "ping"
)

// Server -> Client direct response types (fan-out events carry their own
// "type" field from the event package).
const (
	TypeConnected     = "connected"
	TypeHistoryResult = "history_result"
	TypeSettingsState = "settings_state"
	TypeRateLimited   = "rate_limited"
	TypeError         = "error"
	TypePong          = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Destination reference
// ---------------------------------------------------------------------------

// DestinationRef is how a client addresses a destination: a direct peer, a
// channel, or the global broadcast. The sender's own identity completes a
// direct pair server-side.
type DestinationRef struct {
	Kind      string `json:"kind"`
	Peer      string `json:"peer,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Resolve converts the reference into a normalized destination for the
// given sender.
func (r DestinationRef) Resolve(senderID string) (event.Destination, error) {
	switch r.Kind {
	case event.KindDirect:
		if r.Peer == "" {
			return event.Destination{}, fmt.Errorf("protocol: direct destination requires a peer")
		}
		return event.NewDirect(senderID, r.Peer), nil
	case event.KindChannel:
		if r.ChannelID == "" {
			return event.Destination{}, fmt.Errorf("protocol: channel destination requires a channel_id")
		}
		return event.NewChannel(r.ChannelID), nil
	case event.KindBroadcast:
		return event.NewBroadcast(), nil
	default:
		return event.Destination{}, fmt.Errorf("protocol: unknown destination kind %q", r.Kind)
	}
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg submits a new chat message.
type SendMessageMsg struct {
	Type        string         `json:"type"`
	Destination DestinationRef `json:"destination"`
	Content     string         `json:"content"`
	ReplyTo     *int64         `json:"reply_to,omitempty"`
}

// EditMessageMsg replaces the content of the sender's earlier message.
type EditMessageMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteMessageMsg soft-deletes a message, either for the requester only or,
// when the requester is the sender, for everyone.
type DeleteMessageMsg struct {
	Type         string `json:"type"`
	MessageID    int64  `json:"message_id"`
	DeleteForAll bool   `json:"delete_for_all"`
}

// AddReactionMsg toggles the sender's emoji reaction on a message.
type AddReactionMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// SetStatusMsg sets the sender's presence status.
type SetStatusMsg struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	CustomStatus string `json:"custom_status,omitempty"`
}

// TypingMsg signals a typing indicator for a destination. The client must
// send an explicit stop; the server holds no typing state.
type TypingMsg struct {
	Type        string         `json:"type"`
	Destination DestinationRef `json:"destination"`
	IsTyping    bool           `json:"is_typing"`
}

// JoinChannelMsg adds the sender to a channel's membership.
type JoinChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// LeaveChannelMsg removes the sender from a channel's membership.
type LeaveChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// UpdateSettingsMsg carries a partial settings update. The payload is kept
// raw so the settings package can reject unknown fields during decode.
type UpdateSettingsMsg struct {
	Type     string          `json:"type"`
	Settings json.RawMessage `json:"settings"`
}

// HistoryMsg pulls messages of a destination newer than SinceID.
type HistoryMsg struct {
	Type        string         `json:"type"`
	Destination DestinationRef `json:"destination"`
	SinceID     int64          `json:"since_id"`
	Limit       int            `json:"limit"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client direct response structs
// ---------------------------------------------------------------------------

// ConnectedMsg confirms the handshake and reports the connection identity.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// HistoryItem is one message in a history result.
type HistoryItem struct {
	ID            int64  `json:"id"`
	SenderID      string `json:"sender_id"`
	Content       string `json:"content"`
	ReplyTo       *int64 `json:"reply_to,omitempty"`
	IsEdited      bool   `json:"is_edited,omitempty"`
	DeletedForAll bool   `json:"deleted_for_all,omitempty"`
	Ts            int64  `json:"ts"`
}

// HistoryResultMsg answers a history pull on the requesting connection only.
type HistoryResultMsg struct {
	Type        string         `json:"type"`
	Destination DestinationRef `json:"destination"`
	Messages    []HistoryItem  `json:"messages"`
}

// SettingsStateMsg reports the full settings after a successful update.
type SettingsStateMsg struct {
	Type     string      `json:"type"`
	Settings interface{} `json:"settings"`
}

// RateLimitedMsg is sent when the client exceeded a send quota.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates a rejected request to the originating connection.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEditMessage:
		var m EditMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteMessage:
		var m DeleteMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAddReaction:
		var m AddReactionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetStatus:
		var m SetStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinChannel:
		var m JoinChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChannel:
		var m LeaveChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateSettings:
		var m UpdateSettingsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHistory:
		var m HistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server response.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the response structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
