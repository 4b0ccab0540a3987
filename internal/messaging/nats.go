// Package messaging provides a NATS bridge for cross-instance event fan-out.
// Each server instance publishes every locally originated event to a shared
// subject; every instance subscribes to the same subject and delivers events
// from other instances to its own connections. The origin field filters out
// an instance's own publications.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectEvents is the subject all instances publish fan-out events to.
const SubjectEvents = "messenger.events"

// Envelope wraps an encoded event with the identity of the publishing
// instance so subscribers can skip their own traffic.
type Envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name, doubles as the origin identifier
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "messenger",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Bridge connects the local dispatcher to the rest of the cluster over NATS.
type Bridge struct {
	conn   *nats.Conn
	origin string

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBridge connects to NATS with the given config and returns a ready
// bridge. It returns an error if the initial connection fails.
func NewBridge(config NATSConfig) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bridge{conn: nc, origin: config.Name}, nil
}

// PublishEvent wraps the encoded event in an origin envelope and publishes
// it to the shared events subject.
func (b *Bridge) PublishEvent(data []byte) error {
	env := Envelope{Origin: b.origin, Event: data}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("nats: marshal envelope: %w", err)
	}
	return b.conn.Publish(SubjectEvents, payload)
}

// Start subscribes to the events subject and invokes handler with the raw
// encoded event for every envelope published by another instance. Envelopes
// carrying this instance's own origin are skipped because the dispatcher has
// already delivered them locally.
func (b *Bridge) Start(handler func(data []byte)) error {
	sub, err := b.conn.Subscribe(SubjectEvents, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[nats] malformed envelope: %v", err)
			return
		}
		if env.Origin == b.origin {
			return
		}
		handler(env.Event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectEvents, err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Close drains the subscription and the NATS connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", SubjectEvents, err)
		}
		b.sub = nil
	}

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] bridge closed")
}
