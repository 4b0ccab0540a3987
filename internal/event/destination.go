package event

import (
	"fmt"
	"strings"
)

// Destination kinds.
const (
	KindDirect    = "direct"
	KindChannel   = "channel"
	KindBroadcast = "broadcast"
)

// Destination is a fan-out address: a direct conversation between two users,
// a channel, or the global broadcast. Direct destinations are keyed by the
// unordered user pair; membership is computed from the pair and never stored.
type Destination struct {
	Kind      string `json:"kind"`
	UserA     string `json:"user_a,omitempty"`
	UserB     string `json:"user_b,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// NewDirect builds a direct destination for the unordered pair (a, b).
// The pair is normalized so that (a, b) and (b, a) produce the same value.
func NewDirect(a, b string) Destination {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return Destination{Kind: KindDirect, UserA: a, UserB: b}
}

// NewChannel builds a channel destination.
func NewChannel(channelID string) Destination {
	return Destination{Kind: KindChannel, ChannelID: channelID}
}

// NewBroadcast builds the global broadcast destination.
func NewBroadcast() Destination {
	return Destination{Kind: KindBroadcast}
}

// Participants returns the two users of a direct destination. For a self
// conversation both entries are the same user.
func (d Destination) Participants() (string, string) {
	return d.UserA, d.UserB
}

// Key returns a stable string form usable as a map key or store column.
func (d Destination) Key() string {
	switch d.Kind {
	case KindDirect:
		return "direct:" + d.UserA + ":" + d.UserB
	case KindChannel:
		return "channel:" + d.ChannelID
	case KindBroadcast:
		return "broadcast"
	default:
		return "invalid"
	}
}

// Validate reports whether the destination is well formed.
func (d Destination) Validate() error {
	switch d.Kind {
	case KindDirect:
		if d.UserA == "" || d.UserB == "" {
			return fmt.Errorf("event: direct destination requires two participants")
		}
		if strings.Compare(d.UserA, d.UserB) > 0 {
			return fmt.Errorf("event: direct destination pair is not normalized")
		}
	case KindChannel:
		if d.ChannelID == "" {
			return fmt.Errorf("event: channel destination requires a channel id")
		}
	case KindBroadcast:
	default:
		return fmt.Errorf("event: unknown destination kind %q", d.Kind)
	}
	return nil
}
