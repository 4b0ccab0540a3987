// Package message implements the send/edit/delete pipeline: it validates an
// inbound request, persists the durable record, and hands the corresponding
// outbound event to the dispatcher. Persistence is the durability boundary;
// a dispatch failure after a successful save is acceptable because clients
// recover missed history by pulling.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/metrics"
	"github.com/nexa/messenger/internal/store"
)

// Pipeline error taxonomy. All are rejected synchronously before any state
// change and reported only to the originating connection.
var (
	ErrEmptyContent   = errors.New("message: empty content")
	ErrInvalidContent = errors.New("message: invalid content")
	ErrForbidden      = errors.New("message: forbidden")
	ErrNotFound       = errors.New("message: not found")
)

// History query bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Store is the durable storage surface the pipeline needs. Both the Postgres
// and the in-memory store implement it.
type Store interface {
	SaveMessage(ctx context.Context, m *store.Message) (int64, error)
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	LoadMessages(ctx context.Context, dest event.Destination, sinceID int64, limit int, viewerID string) ([]store.Message, error)
	MarkEdited(ctx context.Context, id int64, content string, editedAt time.Time) error
	MarkDeletedForAll(ctx context.Context, id int64) error
	SuppressForViewer(ctx context.Context, id int64, viewerID string) error
}

// Publisher hands outbound events to the dispatcher.
type Publisher interface {
	Publish(ev event.Event)
}

// Pipeline turns validated send requests into persisted records plus
// outbound events.
type Pipeline struct {
	store Store
	pub   Publisher
}

// NewPipeline creates a Pipeline.
func NewPipeline(st Store, pub Publisher) *Pipeline {
	return &Pipeline{store: st, pub: pub}
}

// Send validates, persists, and announces a new message. On any validation
// failure nothing is persisted and no event is emitted.
func (p *Pipeline) Send(ctx context.Context, senderID string, dest event.Destination, content string, replyTo *int64) (*store.Message, error) {
	if err := dest.Validate(); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Add(1)
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidContent)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Add(1)
		return nil, ErrEmptyContent
	}
	if err := ValidateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Add(1)
		return nil, err
	}

	rec := &store.Message{
		SenderID:    senderID,
		Destination: dest,
		Content:     content,
		ReplyTo:     replyTo,
		CreatedAt:   time.Now().UTC(),
	}

	id, err := p.store.SaveMessage(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("message: persist: %w", err)
	}
	rec.ID = id
	metrics.MessagesTotal.WithLabelValues("sent").Add(1)

	p.pub.Publish(event.New(event.TypeMessageNew, dest, senderID, event.MessageNewPayload{
		ID:      id,
		Content: content,
		ReplyTo: replyTo,
	}))

	return rec, nil
}

// Edit replaces a message's content. Only the original sender may edit; the
// record keeps its edit marker and timestamp, and a follow-up event goes to
// the original destination.
func (p *Pipeline) Edit(ctx context.Context, editorID string, id int64, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return ErrEmptyContent
	}
	if err := ValidateContent(newContent); err != nil {
		return err
	}

	rec, err := p.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("message: load %d: %w", id, err)
	}
	if rec.SenderID != editorID {
		return ErrForbidden
	}
	if rec.DeletedForAll {
		return ErrNotFound
	}

	editedAt := time.Now().UTC()
	if err := p.store.MarkEdited(ctx, id, newContent, editedAt); err != nil {
		return fmt.Errorf("message: mark edited %d: %w", id, err)
	}
	metrics.MessagesTotal.WithLabelValues("edited").Add(1)

	p.pub.Publish(event.New(event.TypeMessageEdited, rec.Destination, editorID, event.MessageEditedPayload{
		ID:       id,
		Content:  newContent,
		EditedAt: editedAt.Unix(),
	}))
	return nil
}

// Delete soft-deletes a message. Delete-for-me suppresses the message for
// the requester only and emits no event. Delete-for-all requires sender
// identity match, sets the durable flag, and announces the deletion.
func (p *Pipeline) Delete(ctx context.Context, requesterID string, id int64, forAll bool) error {
	rec, err := p.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("message: load %d: %w", id, err)
	}

	if !forAll {
		if err := p.store.SuppressForViewer(ctx, id, requesterID); err != nil {
			return fmt.Errorf("message: suppress %d: %w", id, err)
		}
		return nil
	}

	if rec.SenderID != requesterID {
		return ErrForbidden
	}
	if err := p.store.MarkDeletedForAll(ctx, id); err != nil {
		return fmt.Errorf("message: mark deleted %d: %w", id, err)
	}
	metrics.MessagesTotal.WithLabelValues("deleted").Add(1)

	p.pub.Publish(event.New(event.TypeMessageDeleted, rec.Destination, requesterID, event.MessageDeletedPayload{
		ID:            id,
		DeletedForAll: true,
	}))
	return nil
}

// History serves a pull query for the viewer: messages of dest with id
// greater than sinceID, ascending, excluding rows the viewer deleted for
// themselves.
func (p *Pipeline) History(ctx context.Context, viewerID string, dest event.Destination, sinceID int64, limit int) ([]store.Message, error) {
	if err := dest.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidContent)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	msgs, err := p.store.LoadMessages(ctx, dest, sinceID, limit, viewerID)
	if err != nil {
		return nil, fmt.Errorf("message: history %s: %w", dest.Key(), err)
	}

	// Deleted-for-all rows keep their position in the conversation but must
	// not leak the original content to late pullers.
	for i := range msgs {
		if msgs[i].DeletedForAll {
			msgs[i].Content = ""
		}
	}

	metrics.HistoryPulls.Add(1)
	return msgs, nil
}
