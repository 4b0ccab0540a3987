// Package store provides the durable storage collaborator of the real-time
// core: message records, channel membership, reactions, and user settings.
// The real-time layer only needs read-after-write consistency on the same
// connection; any backend satisfying the package's method set can sit behind
// it (Postgres in production, Memory in tests).
package store

import (
	"errors"
	"time"

	"github.com/nexa/messenger/internal/event"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Message is the durable unit. Once created it is immutable except for the
// explicit edit and soft-delete markers; rows are never hard-deleted so
// reply-to links and reactions stay referentially intact.
type Message struct {
	ID            int64
	SenderID      string
	Destination   event.Destination
	Content       string
	ReplyTo       *int64
	IsEdited      bool
	EditedAt      *time.Time
	DeletedForAll bool
	CreatedAt     time.Time
}

// Reaction is one user's emoji reaction on one message. A user holds at most
// one reaction per message; counts are derived by counting records per emoji.
type Reaction struct {
	MessageID int64
	UserID    string
	Emoji     string
}
