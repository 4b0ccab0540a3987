package registry

import (
	"fmt"
	"sync"
	"testing"
)

// fakeConn is a minimal Conn for registry tests.
type fakeConn struct {
	id   string
	user string
}

func (f *fakeConn) ID() string            { return f.id }
func (f *fakeConn) UserID() string        { return f.user }
func (f *fakeConn) Enqueue(_ []byte) bool { return true }

func TestRegisterAndLookup(t *testing.T) {
	r := New(Hooks{})

	c1 := &fakeConn{id: "c1", user: "alice"}
	c2 := &fakeConn{id: "c2", user: "alice"}
	c3 := &fakeConn{id: "c3", user: "bob"}
	r.Register(c1)
	r.Register(c2)
	r.Register(c3)

	if r.Count() != 3 {
		t.Fatalf("expected 3 connections, got %d", r.Count())
	}
	if got := len(r.ConnectionsFor("alice")); got != 2 {
		t.Errorf("expected 2 connections for alice, got %d", got)
	}
	if got := len(r.ConnectionsFor("bob")); got != 1 {
		t.Errorf("expected 1 connection for bob, got %d", got)
	}
	if r.Get("c2") != c2 {
		t.Error("Get(c2) should return the registered connection")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New(Hooks{})
	r.Register(&fakeConn{id: "c1", user: "alice"})

	if !r.Unregister("c1") {
		t.Fatal("first unregister should report true")
	}
	if r.Unregister("c1") {
		t.Fatal("second unregister should report false")
	}
	if r.Unregister("never-existed") {
		t.Fatal("unregister of unknown connection should report false")
	}
	if got := len(r.ConnectionsFor("alice")); got != 0 {
		t.Errorf("expected 0 connections after unregister, got %d", got)
	}
}

func TestHooksFireOutsideLock(t *testing.T) {
	var r *Registry
	opened := make([]string, 0)
	closed := make([]string, 0)

	r = New(Hooks{
		ConnectionOpened: func(userID, connID string) {
			// Re-entering the registry here deadlocks if hooks run under
			// the write lock.
			_ = r.ConnectionsFor(userID)
			opened = append(opened, connID)
		},
		ConnectionClosed: func(userID, connID string) {
			_ = r.ConnectionsFor(userID)
			closed = append(closed, connID)
		},
	})

	r.Register(&fakeConn{id: "c1", user: "alice"})
	r.Unregister("c1")
	r.Unregister("c1") // no second closed hook

	if len(opened) != 1 || opened[0] != "c1" {
		t.Errorf("expected one opened hook for c1, got %v", opened)
	}
	if len(closed) != 1 || closed[0] != "c1" {
		t.Errorf("expected one closed hook for c1, got %v", closed)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New(Hooks{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%5)
			for j := 0; j < 20; j++ {
				id := fmt.Sprintf("conn-%d-%d", i, j)
				r.Register(&fakeConn{id: id, user: user})
				_ = r.ConnectionsFor(user)
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Errorf("expected empty registry after churn, got %d", r.Count())
	}
}
