// Package bus provides the per-world typed publish/subscribe emitter.
//
// Each world owns one Emitter with four channels: message, sse, system, and
// the deprecated world channel. Every subscription gets a buffered Go channel
// drained by its own goroutine, so handlers run asynchronously relative to
// the publisher and a slow handler never blocks the bus.
package bus

import (
	"log/slog"
	"sync"
)

// Channel names the typed event channels of a world emitter.
type Channel string

const (
	ChannelMessage Channel = "message"
	ChannelSSE     Channel = "sse"
	ChannelSystem  Channel = "system"

	// ChannelWorld is deprecated and kept as noop forwarding; new code
	// uses only the three channels above.
	ChannelWorld Channel = "world"
)

// Handler receives published payloads. The payload type is per channel:
// *models.Event on message/system, *models.StreamEvent on sse.
type Handler func(payload any)

// subscriberBuffer bounds the per-subscription queue. Overflow drops the
// payload and logs rather than stalling the publisher.
const subscriberBuffer = 256

type subscription struct {
	channel Channel
	queue   chan any

	// mu serializes sends against close so an unsubscribe racing a
	// publish never sends on a closed channel.
	mu     sync.Mutex
	closed bool
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// send enqueues the payload. The second return reports a dropped
// payload due to a full buffer; sends to a closed subscription are
// silently discarded.
func (s *subscription) send(payload any) (delivered, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.queue <- payload:
		return true, false
	default:
		return false, true
	}
}

// Emitter is the in-memory fan-out for one world.
type Emitter struct {
	mu     sync.Mutex
	subs   map[Channel][]*subscription
	closed bool
	logger *slog.Logger
}

// NewEmitter creates an emitter with no subscriptions.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		subs:   make(map[Channel][]*subscription),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a handler on a channel and returns its unsubscribe
// function. Handlers on the same subscription are invoked in publish order.
func (e *Emitter) Subscribe(channel Channel, handler Handler) (unsubscribe func()) {
	sub := &subscription{
		channel: channel,
		queue:   make(chan any, subscriberBuffer),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.close()
		return func() {}
	}
	e.subs[channel] = append(e.subs[channel], sub)
	e.mu.Unlock()

	go func() {
		for payload := range sub.queue {
			handler(payload)
		}
	}()

	return func() { e.remove(sub) }
}

func (e *Emitter) remove(sub *subscription) {
	e.mu.Lock()
	subs := e.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			e.subs[sub.channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	sub.close()
}

// Publish delivers payload to all current subscribers of channel in
// registration order. Publishing is fire-and-forget; a subscriber whose
// buffer is full loses the payload.
func (e *Emitter) Publish(channel Channel, payload any) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	subs := append([]*subscription(nil), e.subs[channel]...)
	e.mu.Unlock()

	for _, sub := range subs {
		if _, dropped := sub.send(payload); dropped {
			e.logger.Warn("subscriber buffer full, dropping event",
				"channel", string(channel))
		}
	}
}

// SubscriberCount returns the number of active subscriptions across all
// channels. Used by the world registry to decide when a runtime can be
// unpinned.
func (e *Emitter) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, subs := range e.subs {
		n += len(subs)
	}
	return n
}

// Close drops all subscriptions and rejects further publishes.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	var all []*subscription
	for _, subs := range e.subs {
		all = append(all, subs...)
	}
	e.subs = make(map[Channel][]*subscription)
	e.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
