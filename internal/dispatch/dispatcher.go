// Package dispatch implements the fan-out engine. One outbound event is
// encoded once, its destination resolved to a recipient user set, each
// recipient's live connections looked up, and the bytes offered to every
// connection's outbound queue without blocking. A slow or dead connection
// never delays delivery to any other connection.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/nexa/messenger/internal/event"
	"github.com/nexa/messenger/internal/metrics"
	"github.com/nexa/messenger/internal/registry"
	"github.com/nexa/messenger/internal/room"
)

// Bridge forwards encoded events to other server instances. It is optional;
// a nil bridge keeps fan-out local to this process.
type Bridge interface {
	PublishEvent(data []byte) error
}

// Dispatcher fans events out to live connections. It is safe for concurrent
// use by many senders targeting overlapping recipients.
type Dispatcher struct {
	registry *registry.Registry
	rooms    *room.Index
	bridge   Bridge
	timeout  time.Duration // bound on destination resolution
}

// NewDispatcher creates a Dispatcher. bridge may be nil for single-instance
// deployments.
func NewDispatcher(reg *registry.Registry, rooms *room.Index, bridge Bridge) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		rooms:    rooms,
		bridge:   bridge,
		timeout:  3 * time.Second,
	}
}

// Publish encodes the event, delivers it to local connections, and forwards
// it to peer instances through the bridge. Delivery is at-most-once and
// best-effort: failures are logged and dropped, never retried, because the
// durable message record is the source of truth for history recovery.
func (d *Dispatcher) Publish(ev event.Event) {
	start := time.Now()

	data, err := ev.Encode()
	if err != nil {
		log.Printf("dispatch: encode failed type=%s: %v", ev.Type, err)
		return
	}

	d.deliverLocal(ev.Type, ev.Destination, ev.SenderID, data)

	if d.bridge != nil {
		if err := d.bridge.PublishEvent(data); err != nil {
			log.Printf("dispatch: bridge publish failed type=%s: %v", ev.Type, err)
		}
	}

	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
}

// DeliverEncoded fans out an already-encoded event received from a peer
// instance. Only local connections are targeted; the originating instance
// has already forwarded the event to every peer.
func (d *Dispatcher) DeliverEncoded(data []byte) {
	h, err := event.DecodeHeader(data)
	if err != nil {
		log.Printf("dispatch: %v", err)
		return
	}
	d.deliverLocal(h.Type, h.Destination, h.SenderID, data)
}

// deliverLocal resolves recipients and offers the bytes to each live
// connection. Typing indicators exclude the sender's own connections; every
// other event type includes them, so the sender's other devices (and the
// originating connection, as the protocol-defined echo) see the event.
func (d *Dispatcher) deliverLocal(typ string, dest event.Destination, senderID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	recipients, err := d.rooms.Resolve(ctx, dest)
	cancel()
	if err != nil {
		log.Printf("dispatch: resolve %s failed type=%s: %v", dest.Key(), typ, err)
		metrics.EventsDropped.WithLabelValues("resolve_error").Add(1)
		return
	}

	excludeSender := typ == event.TypeTypingStart || typ == event.TypeTypingStop

	for _, userID := range recipients {
		if excludeSender && userID == senderID {
			continue
		}
		for _, c := range d.registry.ConnectionsFor(userID) {
			if c.Enqueue(data) {
				metrics.EventsDelivered.WithLabelValues(typ).Add(1)
			} else {
				// Queue full or connection closed mid-send. Chat history
				// is recoverable via pull; ephemeral events are lost.
				log.Printf("dispatch: dropped type=%s conn=%s user=%s", typ, c.ID(), userID)
				metrics.EventsDropped.WithLabelValues("queue_full").Add(1)
			}
		}
	}
}
