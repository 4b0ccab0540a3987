// Package reaction implements emoji reactions on messages. A user holds at
// most one reaction per message; sending the same emoji again removes it and
// a different emoji replaces it. Counts are always derived by counting
// reaction records per emoji, so two users reacting with the same emoji
// count as two.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/store"
)

var (
	// ErrEmptyEmoji rejects a toggle request without an emoji.
	ErrEmptyEmoji = errors.New("reaction: empty emoji")

	// ErrInvalidEmoji rejects oversized or malformed emoji values.
	ErrInvalidEmoji = errors.New("reaction: invalid emoji")

	// ErrMessageNotFound rejects reactions on unknown or fully deleted messages.
	ErrMessageNotFound = errors.New("reaction: message not found")
)

const maxEmojiChars = 10

// Store is the storage surface the service needs.
type Store interface {
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	GetUserReaction(ctx context.Context, messageID int64, userID string) (string, error)
	SetReaction(ctx context.Context, messageID int64, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID int64, userID string) error
	ReactionCounts(ctx context.Context, messageID int64) (map[string]int, error)
}

// Publisher hands outbound events to the dispatcher.
type Publisher interface {
	Publish(ev event.Event)
}

// Service applies reaction toggles and announces the recomputed counts.
type Service struct {
	store Store
	pub   Publisher
}

// NewService creates a reaction Service.
func NewService(st Store, pub Publisher) *Service {
	return &Service{store: st, pub: pub}
}

// Toggle applies one user's reaction request and returns the message's
// resulting counts. The recomputed counts are also announced to the
// message's destination so open clients refresh.
func (s *Service) Toggle(ctx context.Context, userID string, messageID int64, emoji string) (map[string]int, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, ErrEmptyEmoji
	}
	if utf8.RuneCountInString(emoji) > maxEmojiChars || !utf8.ValidString(emoji) {
		return nil, ErrInvalidEmoji
	}

	rec, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reaction: load message %d: %w", messageID, err)
	}
	if rec.DeletedForAll {
		return nil, ErrMessageNotFound
	}

	current, err := s.store.GetUserReaction(ctx, messageID, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = s.store.SetReaction(ctx, messageID, userID, emoji)
	case err != nil:
		return nil, fmt.Errorf("reaction: lookup: %w", err)
	case current == emoji:
		err = s.store.RemoveReaction(ctx, messageID, userID)
	default:
		err = s.store.SetReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, fmt.Errorf("reaction: apply: %w", err)
	}

	counts, err := s.store.ReactionCounts(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: counts %d: %w", messageID, err)
	}

	s.pub.Publish(event.New(event.TypeReaction, rec.Destination, userID, event.ReactionPayload{
		MessageID: messageID,
		Counts:    counts,
	}))
	return counts, nil
}

// Counts returns the message's current per-emoji record counts.
func (s *Service) Counts(ctx context.Context, messageID int64) (map[string]int, error) {
	counts, err := s.store.ReactionCounts(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: counts %d: %w", messageID, err)
	}
	return counts, nil
}
