package ws

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrQueueFull is returned by WriteMessage when the connection's outbound
// queue has no room. The frame is dropped, never retried; clients recover
// missed messages through a history pull.
var ErrQueueFull = errors.New("ws: outbound queue full")

// Connection represents a single authenticated WebSocket connection. Each
// connection owns a bounded outbound queue drained by a dedicated writer
// goroutine, so a slow reader on one socket never blocks delivery to another.
type Connection struct {
	id     string // connection ID (UUID)
	userID string // authenticated user identity, fixed for the lifetime

	conn      net.Conn
	sendQueue chan []byte

	writeMu      sync.Mutex // serializes data frames with control frames
	writeTimeout time.Duration

	createdAt time.Time
	lastPing  atomicTime // last frame received from the client

	closeOnce sync.Once
	done      chan struct{}
}

// atomicTime is a mutex-guarded timestamp shared between the read loop and
// the heartbeat monitor.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) Set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) Get() time.Time {
	a.mu.Lock()
	t := a.t
	a.mu.Unlock()
	return t
}

// newConnection wraps an upgraded network connection and starts its writer
// goroutine.
func newConnection(id, userID string, conn net.Conn, queueSize int, writeTimeout time.Duration) *Connection {
	c := &Connection{
		id:           id,
		userID:       userID,
		conn:         conn,
		sendQueue:    make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		createdAt:    time.Now(),
		done:         make(chan struct{}),
	}
	c.lastPing.Set(time.Now())

	go c.writeLoop()
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user identity bound at handshake.
func (c *Connection) UserID() string { return c.userID }

// Enqueue offers a frame to the outbound queue without blocking. It returns
// false if the queue is full or the connection is closed; the caller decides
// what to do about the drop.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.sendQueue <- data:
		return true
	default:
		return false
	}
}

// WriteMessage enqueues a frame and reports ErrQueueFull when it cannot.
func (c *Connection) WriteMessage(data []byte) error {
	if !c.Enqueue(data) {
		return ErrQueueFull
	}
	return nil
}

// writeLoop drains the outbound queue, writing one text frame per queued
// payload. A write error closes the connection; the read loop observes the
// closed socket and triggers cleanup.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendQueue:
			if err := c.writeFrame(ws.OpText, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) writeFrame(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := wsutil.WriteServerMessage(c.conn, op, data)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9). The
// write mutex ensures this does not interleave with queued data frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := ws.WriteFrame(c.conn, ws.NewPingFrame(nil))
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// TouchPing records client activity for the heartbeat monitor.
func (c *Connection) TouchPing() { c.lastPing.Set(time.Now()) }

// LastPing reports when the connection last proved it was alive.
func (c *Connection) LastPing() time.Time { return c.lastPing.Get() }

// Close shuts the connection down exactly once: the writer goroutine exits
// and the underlying socket is closed.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done returns a channel closed when the connection has been shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }
