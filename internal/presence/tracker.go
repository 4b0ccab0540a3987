// Package presence owns per-user presence state and translates connect,
// disconnect, status and typing signals into outbound events. State is
// sharded by user so one user's transition never blocks another's.
package presence

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/metrics"
)

// Status values a user may hold. Offline is never set explicitly: it is
// implied by an empty active-connection set and restored automatically when
// the last connection closes.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

// ErrInvalidStatus is returned for a status value outside the allowed set.
var ErrInvalidStatus = errors.New("presence: invalid status value")

// onlineStatuses is the set of explicitly settable (online-class) states.
var onlineStatuses = map[string]bool{
	StatusOnline: true,
	StatusAway:   true,
	StatusBusy:   true,
	StatusDND:    true,
}

// Publisher hands outbound events to the dispatcher. The dispatcher
// implements it; tests use a capture stub.
type Publisher interface {
	Publish(ev event.Event)
}

// State is a read snapshot of one user's presence.
type State struct {
	UserID       string
	Status       string
	CustomStatus string
	LastActivity time.Time
	Connections  int
}

// record is the mutable per-user presence state, guarded by its shard lock.
// emitMu serializes event emission for the user: it is acquired while the
// shard lock is still held, so events leave in the same order the
// transitions were applied. Records are never removed from the shard map,
// which keeps the mutex identity stable across offline periods.
type record struct {
	status       string
	customStatus string
	lastActivity time.Time
	conns        map[string]struct{}

	emitMu sync.Mutex
}

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	users map[string]*record
}

// Tracker maintains presence records sharded across independent locks.
type Tracker struct {
	shards [shardCount]shard
	pub    Publisher
}

// NewTracker creates a Tracker that emits presence events via pub.
func NewTracker(pub Publisher) *Tracker {
	t := &Tracker{pub: pub}
	for i := range t.shards {
		t.shards[i].users = make(map[string]*record)
	}
	return t
}

func (t *Tracker) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &t.shards[h.Sum32()%shardCount]
}

// ConnectionOpened records a new connection for the user. The first
// connection transitions the user from offline to online and broadcasts a
// presence.changed event.
func (t *Tracker) ConnectionOpened(userID, connID string) {
	s := t.shardFor(userID)

	s.mu.Lock()
	rec, ok := s.users[userID]
	if !ok {
		rec = &record{status: StatusOffline, conns: make(map[string]struct{})}
		s.users[userID] = rec
	}
	first := len(rec.conns) == 0
	rec.conns[connID] = struct{}{}
	rec.lastActivity = time.Now()
	if first {
		rec.status = StatusOnline
	}
	status, custom := rec.status, rec.customStatus
	if first {
		rec.emitMu.Lock()
	}
	s.mu.Unlock()

	// Publish outside the shard lock so dispatch never contends with another
	// user's transition. The emit mutex, taken before the shard lock was
	// released, keeps this user's events in transition order.
	if first {
		t.emitChanged(userID, status, custom)
		rec.emitMu.Unlock()
	}
}

// ConnectionClosed removes a connection. Closing the last connection
// transitions the user to offline and broadcasts the change. Unknown
// connections are ignored.
func (t *Tracker) ConnectionClosed(userID, connID string) {
	s := t.shardFor(userID)

	s.mu.Lock()
	rec, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, known := rec.conns[connID]; !known {
		s.mu.Unlock()
		return
	}
	delete(rec.conns, connID)
	last := len(rec.conns) == 0
	if last {
		rec.status = StatusOffline
		rec.customStatus = ""
	}
	rec.lastActivity = time.Now()
	if last {
		rec.emitMu.Lock()
	}
	s.mu.Unlock()

	if last {
		t.emitChanged(userID, StatusOffline, "")
		rec.emitMu.Unlock()
	}
}

// SetStatus applies a user-initiated status transition. Any online-class
// state is reachable from any other. Setting a status while the user has no
// active connections is a no-op: the offline invariant is owned by the
// connection set, not by explicit requests.
func (t *Tracker) SetStatus(userID, status, customStatus string) error {
	if !onlineStatuses[status] {
		return ErrInvalidStatus
	}

	s := t.shardFor(userID)

	s.mu.Lock()
	rec, ok := s.users[userID]
	if !ok || len(rec.conns) == 0 {
		s.mu.Unlock()
		return nil
	}
	rec.status = status
	rec.customStatus = customStatus
	rec.lastActivity = time.Now()
	rec.emitMu.Lock()
	s.mu.Unlock()

	t.emitChanged(userID, status, customStatus)
	rec.emitMu.Unlock()
	return nil
}

// Typing emits an ephemeral typing indicator addressed to dest. No state is
// held; the client must send an explicit stop signal.
func (t *Tracker) Typing(userID string, dest event.Destination, typing bool) {
	typ := event.TypeTypingStop
	if typing {
		typ = event.TypeTypingStart
	}
	t.pub.Publish(event.New(typ, dest, userID, event.TypingPayload{UserID: userID}))
}

// Touch refreshes the user's last-activity timestamp.
func (t *Tracker) Touch(userID string) {
	s := t.shardFor(userID)
	s.mu.Lock()
	if rec, ok := s.users[userID]; ok {
		rec.lastActivity = time.Now()
	}
	s.mu.Unlock()
}

// Get returns a snapshot of the user's presence. Users never seen are
// reported offline.
func (t *Tracker) Get(userID string) State {
	s := t.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return State{UserID: userID, Status: StatusOffline}
	}
	return State{
		UserID:       userID,
		Status:       rec.status,
		CustomStatus: rec.customStatus,
		LastActivity: rec.lastActivity,
		Connections:  len(rec.conns),
	}
}

// emitChanged broadcasts a presence transition. Presence changes go to the
// global broadcast destination; the dispatcher narrows delivery to the
// connections actually interested.
func (t *Tracker) emitChanged(userID, status, customStatus string) {
	metrics.PresenceTransitions.WithLabelValues(status).Add(1)
	t.pub.Publish(event.New(event.TypePresence, event.NewBroadcast(), userID, event.PresencePayload{
		UserID:       userID,
		Status:       status,
		CustomStatus: customStatus,
	}))
}
