package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/settings"
)

// Memory is an in-memory store with the same semantics as Postgres. It backs
// unit tests and single-process toy deployments.
type Memory struct {
	mu         sync.RWMutex
	nextID     int64
	messages   map[int64]*Message
	suppressed map[int64]map[string]struct{}
	reactions  map[int64]map[string]string // message -> user -> emoji
	channels   map[string]map[string]struct{}
	users      map[string]struct{}
	settings   map[string]settings.Settings
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:     1,
		messages:   make(map[int64]*Message),
		suppressed: make(map[int64]map[string]struct{}),
		reactions:  make(map[int64]map[string]string),
		channels:   make(map[string]map[string]struct{}),
		users:      make(map[string]struct{}),
		settings:   make(map[string]settings.Settings),
	}
}

// AddUser registers a user identity (broadcast resolution source).
func (m *Memory) AddUser(userID string) {
	m.mu.Lock()
	m.users[userID] = struct{}{}
	m.mu.Unlock()
}

// SaveMessage assigns the next monotonic id and stores a copy of the record.
func (m *Memory) SaveMessage(_ context.Context, msg *Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	stored := *msg
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.messages[id] = &stored
	return id, nil
}

// GetMessage returns a copy of the record, or ErrNotFound.
func (m *Memory) GetMessage(_ context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *msg
	return &out, nil
}

// LoadMessages mirrors the Postgres query: ascending id order, suppressed
// rows excluded for the viewer.
func (m *Memory) LoadMessages(_ context.Context, dest event.Destination, sinceID int64, limit int, viewerID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := dest.Key()
	var out []Message
	for id, msg := range m.messages {
		if msg.Destination.Key() != key || id <= sinceID {
			continue
		}
		if viewers, ok := m.suppressed[id]; ok {
			if _, hidden := viewers[viewerID]; hidden {
				continue
			}
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkEdited applies the edit markers.
func (m *Memory) MarkEdited(_ context.Context, id int64, content string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = content
	msg.IsEdited = true
	t := editedAt
	msg.EditedAt = &t
	return nil
}

// MarkDeletedForAll sets the soft-delete flag.
func (m *Memory) MarkDeletedForAll(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.DeletedForAll = true
	return nil
}

// SuppressForViewer hides the message from one viewer.
func (m *Memory) SuppressForViewer(_ context.Context, id int64, viewerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	viewers, ok := m.suppressed[id]
	if !ok {
		viewers = make(map[string]struct{})
		m.suppressed[id] = viewers
	}
	viewers[viewerID] = struct{}{}
	return nil
}

// ChannelMembers returns the membership snapshot.
func (m *Memory) ChannelMembers(_ context.Context, channelID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.channels[channelID]
	out := make([]string, 0, len(members))
	for u := range members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// AddChannelMember adds a user to a channel.
func (m *Memory) AddChannelMember(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.channels[channelID]
	if !ok {
		members = make(map[string]struct{})
		m.channels[channelID] = members
	}
	members[userID] = struct{}{}
	return nil
}

// RemoveChannelMember removes a user from a channel.
func (m *Memory) RemoveChannelMember(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.channels[channelID]; ok {
		delete(members, userID)
	}
	return nil
}

// AllUserIDs returns every registered user.
func (m *Memory) AllUserIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.users))
	for u := range m.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// GetUserReaction returns the user's current emoji on the message.
func (m *Memory) GetUserReaction(_ context.Context, messageID int64, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if emoji, ok := m.reactions[messageID][userID]; ok {
		return emoji, nil
	}
	return "", ErrNotFound
}

// SetReaction inserts or replaces the user's reaction.
func (m *Memory) SetReaction(_ context.Context, messageID int64, userID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.reactions[messageID]
	if !ok {
		users = make(map[string]string)
		m.reactions[messageID] = users
	}
	users[userID] = emoji
	return nil
}

// RemoveReaction deletes the user's reaction.
func (m *Memory) RemoveReaction(_ context.Context, messageID int64, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if users, ok := m.reactions[messageID]; ok {
		delete(users, userID)
	}
	return nil
}

// ReactionCounts counts reaction records per emoji.
func (m *Memory) ReactionCounts(_ context.Context, messageID int64) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, emoji := range m.reactions[messageID] {
		counts[emoji]++
	}
	return counts, nil
}

// LoadSettings returns the user's settings, or defaults when none are saved.
func (m *Memory) LoadSettings(_ context.Context, userID string) (settings.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return settings.Defaults(), nil
}

// SaveSettings upserts the user's settings record.
func (m *Memory) SaveSettings(_ context.Context, userID string, s settings.Settings) error {
	m.mu.Lock()
	m.settings[userID] = s
	m.mu.Unlock()
	return nil
}
