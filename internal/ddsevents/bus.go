package ddsevents

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Bus dispatches status Events to registered Handlers (spec.md §4.7)
// and, when a JetStream context is attached, mirrors discovery events
// onto durable subjects for external observers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	js       nats.JetStreamContext
}

// New creates an empty Bus.
func New() *Bus { return &Bus{} }

// SetJetStream attaches a JetStream context used for discovery
// mirroring. Publishing is fire-and-forget: a JetStream outage never
// blocks or fails local listener dispatch.
func (b *Bus) SetJetStream(js nats.JetStreamContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.js = js
}

// JetStreamEnabled reports whether a JetStream context is attached.
func (b *Bus) JetStreamEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js != nil
}

// Register adds a handler. Handlers are sorted by priority on each
// Dispatch, so registration order doesn't matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unregister removes a handler by id.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) matchingHandlers(kind StatusKind) []Handler {
	var out []Handler
	for _, h := range b.handlers {
		for _, k := range h.Handles() {
			if k == kind {
				out = append(out, h)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

// Dispatch delivers ev to every matching handler in priority order.
// Handler errors are logged, never returned — per spec.md §5, listener
// callbacks run with no core lock held, and one bad listener must not
// stop the chain for the rest.
func (b *Bus) Dispatch(ctx context.Context, ev *Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	matching := b.matchingHandlers(ev.Kind)
	js := b.js
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := h.Handle(ctx, ev); err != nil {
			log.Printf("ddsevents: handler %q error for %s: %v", h.ID(), ev.Kind, err)
		}
	}

	if js != nil && (ev.Kind == StatusDiscoveryAlive || ev.Kind == StatusDiscoveryGone) {
		b.publishDiscovery(js, ev)
	}
}

func (b *Bus) publishDiscovery(js nats.JetStreamContext, ev *Event) {
	type mirrored struct {
		Kind      StatusKind `json:"kind"`
		Entity    string     `json:"entity"`
		Topic     string     `json:"topic"`
		Timestamp time.Time  `json:"timestamp"`
	}
	data, err := json.Marshal(mirrored{Kind: ev.Kind, Entity: ev.Entity.String(), Topic: ev.Topic, Timestamp: time.Now()})
	if err != nil {
		log.Printf("ddsevents: marshal discovery event: %v", err)
		return
	}
	subject := SubjectForTopic(ev.Topic)
	if ack, err := js.Publish(subject, data); err != nil {
		log.Printf("ddsevents: JetStream publish to %s failed: %v", subject, err)
	} else {
		log.Printf("ddsevents: JetStream published to %s (stream=%s seq=%d)", subject, ack.Stream, ack.Sequence)
	}
}
