package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/registry"
	"github.com/nexa/messenger/internal/room"
)

// fakeConn records every enqueued frame. full simulates a saturated queue.
type fakeConn struct {
	id   string
	user string
	full bool

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.user }

func (f *fakeConn) Enqueue(data []byte) bool {
	if f.full {
		return false
	}
	f.mu.Lock()
	f.frames = append(f.frames, data)
	f.mu.Unlock()
	return true
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// stubMembers backs the room index in tests.
type stubMembers struct {
	channels map[string][]string
	users    []string
}

func (s *stubMembers) ChannelMembers(_ context.Context, id string) ([]string, error) {
	return s.channels[id], nil
}

func (s *stubMembers) AllUserIDs(_ context.Context) ([]string, error) {
	return s.users, nil
}

func newTestDispatcher(members *stubMembers, conns ...*fakeConn) *Dispatcher {
	reg := registry.New(registry.Hooks{})
	for _, c := range conns {
		reg.Register(c)
	}
	return NewDispatcher(reg, room.NewIndex(members), nil)
}

func decodeType(t *testing.T, data []byte) (string, map[string]interface{}) {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	typ, _ := m["type"].(string)
	return typ, m
}

func TestDirectFanOutMultiDevice(t *testing.T) {
	a1 := &fakeConn{id: "a1", user: "alice"}
	a2 := &fakeConn{id: "a2", user: "alice"}
	b1 := &fakeConn{id: "b1", user: "bob"}
	b2 := &fakeConn{id: "b2", user: "bob"}
	d := newTestDispatcher(&stubMembers{}, a1, a2, b1, b2)

	ev := event.New(event.TypeMessageNew, event.NewDirect("alice", "bob"), "alice",
		event.MessageNewPayload{ID: 42, Content: "hello"})
	d.Publish(ev)

	// Both of bob's connections get exactly one copy with the same id.
	for _, c := range []*fakeConn{b1, b2} {
		frames := c.received()
		if len(frames) != 1 {
			t.Fatalf("conn %s: expected 1 frame, got %d", c.id, len(frames))
		}
		_, m := decodeType(t, frames[0])
		payload := m["payload"].(map[string]interface{})
		if payload["id"].(float64) != 42 {
			t.Errorf("conn %s: expected message id 42, got %v", c.id, payload["id"])
		}
	}

	// Alice's connections (including the originating one) each get the
	// single protocol-defined echo, never a duplicate.
	for _, c := range []*fakeConn{a1, a2} {
		if got := len(c.received()); got != 1 {
			t.Errorf("conn %s: expected 1 echo frame, got %d", c.id, got)
		}
	}
}

func TestTypingExcludesSender(t *testing.T) {
	a1 := &fakeConn{id: "a1", user: "alice"}
	a2 := &fakeConn{id: "a2", user: "alice"}
	b1 := &fakeConn{id: "b1", user: "bob"}
	d := newTestDispatcher(&stubMembers{}, a1, a2, b1)

	d.Publish(event.New(event.TypeTypingStart, event.NewDirect("alice", "bob"), "alice",
		event.TypingPayload{UserID: "alice"}))

	if got := len(b1.received()); got != 1 {
		t.Fatalf("bob should receive the typing indicator, got %d frames", got)
	}
	typ, m := decodeType(t, b1.received()[0])
	if typ != event.TypeTypingStart {
		t.Errorf("expected typing.start, got %s", typ)
	}
	if p := m["payload"].(map[string]interface{}); p["user_id"] != "alice" {
		t.Errorf("typing user_id must be the typist, got %v", p["user_id"])
	}

	if len(a1.received()) != 0 || len(a2.received()) != 0 {
		t.Error("typing indicators must never echo to the sender's connections")
	}
}

func TestChannelFanOutSkipsOfflineMembers(t *testing.T) {
	a := &fakeConn{id: "a1", user: "alice"}
	b := &fakeConn{id: "b1", user: "bob"}
	members := &stubMembers{channels: map[string][]string{
		"general": {"alice", "bob", "carol"}, // carol has no connection
	}}
	d := newTestDispatcher(members, a, b)

	d.Publish(event.New(event.TypeMessageNew, event.NewChannel("general"), "bob",
		event.MessageNewPayload{ID: 1, Content: "hi all"}))

	if len(a.received()) != 1 || len(b.received()) != 1 {
		t.Errorf("online members should each receive one frame: alice=%d bob=%d",
			len(a.received()), len(b.received()))
	}
}

func TestEmptyChannelZeroDeliveries(t *testing.T) {
	a := &fakeConn{id: "a1", user: "alice"}
	d := newTestDispatcher(&stubMembers{channels: map[string][]string{}}, a)

	// Must not error or panic; zero deliveries is the expected outcome.
	d.Publish(event.New(event.TypeMessageNew, event.NewChannel("empty"), "alice",
		event.MessageNewPayload{ID: 1, Content: "anyone?"}))

	if len(a.received()) != 0 {
		t.Errorf("expected zero deliveries for an empty channel, got %d", len(a.received()))
	}
}

func TestFullQueueDoesNotStallOthers(t *testing.T) {
	slow := &fakeConn{id: "slow", user: "bob", full: true}
	fast := &fakeConn{id: "fast", user: "bob"}
	d := newTestDispatcher(&stubMembers{}, slow, fast)

	d.Publish(event.New(event.TypeMessageNew, event.NewDirect("alice", "bob"), "alice",
		event.MessageNewPayload{ID: 9, Content: "x"}))

	if len(fast.received()) != 1 {
		t.Errorf("healthy connection must receive the event despite a saturated sibling")
	}
	if len(slow.received()) != 0 {
		t.Errorf("saturated connection should have dropped the event")
	}
}

func TestPerSenderOrderingPerConnection(t *testing.T) {
	b := &fakeConn{id: "b1", user: "bob"}
	d := newTestDispatcher(&stubMembers{}, b)
	dest := event.NewDirect("alice", "bob")

	for i := 0; i < 20; i++ {
		d.Publish(event.New(event.TypeMessageNew, dest, "alice",
			event.MessageNewPayload{ID: int64(i), Content: fmt.Sprintf("m%d", i)}))
	}

	frames := b.received()
	if len(frames) != 20 {
		t.Fatalf("expected 20 frames, got %d", len(frames))
	}
	for i, data := range frames {
		_, m := decodeType(t, data)
		id := int64(m["payload"].(map[string]interface{})["id"].(float64))
		if id != int64(i) {
			t.Fatalf("frame %d: expected message id %d, got %d (order violated)", i, i, id)
		}
	}
}

func TestBroadcastReachesAllKnownUsers(t *testing.T) {
	a := &fakeConn{id: "a1", user: "alice"}
	b := &fakeConn{id: "b1", user: "bob"}
	members := &stubMembers{users: []string{"alice", "bob", "carol"}}
	d := newTestDispatcher(members, a, b)

	d.Publish(event.New(event.TypePresence, event.NewBroadcast(), "carol",
		event.PresencePayload{UserID: "carol", Status: "online"}))

	if len(a.received()) != 1 || len(b.received()) != 1 {
		t.Errorf("broadcast should reach every connected user: alice=%d bob=%d",
			len(a.received()), len(b.received()))
	}
}

func TestDeliverEncodedFromBridge(t *testing.T) {
	b := &fakeConn{id: "b1", user: "bob"}
	d := newTestDispatcher(&stubMembers{}, b)

	ev := event.New(event.TypeMessageNew, event.NewDirect("alice", "bob"), "alice",
		event.MessageNewPayload{ID: 3, Content: "from another instance"})
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d.DeliverEncoded(data)

	if len(b.received()) != 1 {
		t.Fatalf("expected bridged event to be delivered locally, got %d", len(b.received()))
	}
}

// recordingBridge captures bridge traffic.
type recordingBridge struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingBridge) PublishEvent(data []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, data)
	r.mu.Unlock()
	return nil
}

func TestPublishForwardsToBridge(t *testing.T) {
	reg := registry.New(registry.Hooks{})
	bridge := &recordingBridge{}
	d := NewDispatcher(reg, room.NewIndex(&stubMembers{}), bridge)

	d.Publish(event.New(event.TypeMessageNew, event.NewDirect("a", "b"), "a",
		event.MessageNewPayload{ID: 1, Content: "x"}))

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.frames) != 1 {
		t.Fatalf("expected 1 bridged frame, got %d", len(bridge.frames))
	}
}
