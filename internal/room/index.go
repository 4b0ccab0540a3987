// Package room resolves fan-out destinations into recipient user sets.
// Direct membership is computed from the user pair and never stored; channel
// membership is read from the durable store and is read-only here (the CRUD
// layer owns membership writes).
package room

import (
	"context"
	"fmt"

	"github.com/nexa/messenger/internal/event"
)

// MemberSource supplies externally maintained membership data. The Postgres
// store implements it; tests use the in-memory store.
type MemberSource interface {
	// ChannelMembers returns the current membership snapshot of a channel.
	// An unknown or empty channel yields an empty set, not an error.
	ChannelMembers(ctx context.Context, channelID string) ([]string, error)

	// AllUserIDs returns every known user, used for broadcast resolution.
	AllUserIDs(ctx context.Context) ([]string, error)
}

// Index maps destinations to recipient user identities.
type Index struct {
	members MemberSource
}

// NewIndex creates an Index backed by the given membership source.
func NewIndex(members MemberSource) *Index {
	return &Index{members: members}
}

// Resolve returns the set of user identities that must receive an event
// addressed to dest. For a direct destination this is always exactly the two
// participants, regardless of who is online.
func (i *Index) Resolve(ctx context.Context, dest event.Destination) ([]string, error) {
	switch dest.Kind {
	case event.KindDirect:
		a, b := dest.Participants()
		if a == b {
			// Self conversation (saved messages).
			return []string{a}, nil
		}
		return []string{a, b}, nil

	case event.KindChannel:
		members, err := i.members.ChannelMembers(ctx, dest.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("room: resolve channel %s: %w", dest.ChannelID, err)
		}
		return members, nil

	case event.KindBroadcast:
		users, err := i.members.AllUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("room: resolve broadcast: %w", err)
		}
		return users, nil

	default:
		return nil, fmt.Errorf("room: unknown destination kind %q", dest.Kind)
	}
}
