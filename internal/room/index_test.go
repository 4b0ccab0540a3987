package room

import (
	"context"
	"sort"
	"testing"

	"github.com/nexa/messenger/internal/event"
)

// stubMembers is a canned MemberSource.
type stubMembers struct {
	channels map[string][]string
	users    []string
}

func (s *stubMembers) ChannelMembers(_ context.Context, channelID string) ([]string, error) {
	return s.channels[channelID], nil
}

func (s *stubMembers) AllUserIDs(_ context.Context) ([]string, error) {
	return s.users, nil
}

func TestResolveDirect(t *testing.T) {
	idx := NewIndex(&stubMembers{})

	got, err := idx.Resolve(context.Background(), event.NewDirect("bob", "alice"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("expected {alice, bob}, got %v", got)
	}
}

func TestResolveDirectSelf(t *testing.T) {
	idx := NewIndex(&stubMembers{})

	got, err := idx.Resolve(context.Background(), event.NewDirect("alice", "alice"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("expected {alice}, got %v", got)
	}
}

func TestResolveChannel(t *testing.T) {
	idx := NewIndex(&stubMembers{
		channels: map[string][]string{"general": {"a", "b", "c"}},
	})

	got, err := idx.Resolve(context.Background(), event.NewChannel("general"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 members, got %v", got)
	}
}

func TestResolveEmptyChannel(t *testing.T) {
	idx := NewIndex(&stubMembers{channels: map[string][]string{}})

	got, err := idx.Resolve(context.Background(), event.NewChannel("ghost-town"))
	if err != nil {
		t.Fatalf("empty channel should not be an error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty set, got %v", got)
	}
}

func TestResolveBroadcast(t *testing.T) {
	idx := NewIndex(&stubMembers{users: []string{"a", "b", "c", "d"}})

	got, err := idx.Resolve(context.Background(), event.NewBroadcast())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 users, got %v", got)
	}
}

func TestResolveUnknownKind(t *testing.T) {
	idx := NewIndex(&stubMembers{})

	if _, err := idx.Resolve(context.Background(), event.Destination{Kind: "room"}); err == nil {
		t.Fatal("expected error for unknown destination kind")
	}
}
