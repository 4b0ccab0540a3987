package reaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/store"
)

type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) Publish(ev event.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func setup(t *testing.T) (*Service, *capture, int64) {
	t.Helper()
	mem := store.NewMemory()
	id, err := mem.SaveMessage(context.Background(), &store.Message{
		SenderID:    "alice",
		Destination: event.NewDirect("alice", "bob"),
		Content:     "nice",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	pub := &capture{}
	return NewService(mem, pub), pub, id
}

func TestToggleAddRemoveSwitch(t *testing.T) {
	svc, _, id := setup(t)
	ctx := context.Background()

	counts, err := svc.Toggle(ctx, "bob", id, "👍")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if counts["👍"] != 1 {
		t.Errorf("expected 👍 count 1 after add, got %v", counts)
	}

	// Different emoji from the same user replaces, never double-counts.
	counts, err = svc.Toggle(ctx, "bob", id, "🔥")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if counts["🔥"] != 1 || counts["👍"] != 0 {
		t.Errorf("expected switch to 🔥, got %v", counts)
	}

	// Same emoji again removes the reaction.
	counts, err = svc.Toggle(ctx, "bob", id, "🔥")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected no reactions after removal, got %v", counts)
	}
}

func TestCountsPerRecordNotPerEmojiSet(t *testing.T) {
	svc, _, id := setup(t)
	ctx := context.Background()

	// Two distinct users reacting with the same emoji are two records.
	if _, err := svc.Toggle(ctx, "bob", id, "👍"); err != nil {
		t.Fatalf("bob: %v", err)
	}
	counts, err := svc.Toggle(ctx, "carol", id, "👍")
	if err != nil {
		t.Fatalf("carol: %v", err)
	}
	if counts["👍"] != 2 {
		t.Errorf("expected 👍 count 2 for two users, got %v", counts)
	}
}

func TestToggleValidation(t *testing.T) {
	svc, pub, id := setup(t)
	ctx := context.Background()

	if _, err := svc.Toggle(ctx, "bob", id, "   "); !errors.Is(err, ErrEmptyEmoji) {
		t.Errorf("expected ErrEmptyEmoji, got %v", err)
	}
	if _, err := svc.Toggle(ctx, "bob", id, "abcdefghijk"); !errors.Is(err, ErrInvalidEmoji) {
		t.Errorf("expected ErrInvalidEmoji for oversized value, got %v", err)
	}
	if _, err := svc.Toggle(ctx, "bob", 999, "👍"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Error("rejected toggles must not emit events")
	}
}

func TestToggleEmitsReactionEvent(t *testing.T) {
	svc, pub, id := setup(t)

	if _, err := svc.Toggle(context.Background(), "bob", id, "👍"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one reaction.updated event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != event.TypeReaction {
		t.Errorf("expected %s, got %s", event.TypeReaction, ev.Type)
	}
	if ev.Destination != event.NewDirect("alice", "bob") {
		t.Error("reaction event must target the message's destination")
	}
	p := ev.Payload.(event.ReactionPayload)
	if p.MessageID != id || p.Counts["👍"] != 1 {
		t.Errorf("unexpected payload: %+v", p)
	}
}
