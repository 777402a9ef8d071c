// Package match implements the endpoint matcher of spec.md §4.6:
// discovered writers and readers for the same topic are paired once
// their QoS is compatible, and the first incompatible policy is
// reported to both sides' listeners when it is not.
package match

import (
	"context"
	"sync"
	"time"

	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/qos"
)

// Endpoint is one discovered writer or reader.
type Endpoint struct {
	GUID      guid.GUID
	Entity    *entity.Entity
	TopicName string
	Qos       qos.Qos

	leaseExpiry time.Time
}

// Hooks lets the owner wire a successful or torn-down match into the
// concrete transport (WHC readers, reliable.Writer/Reader proxies).
type Hooks struct {
	OnMatch   func(writer, reader *Endpoint)
	OnUnmatch func(writer, reader guid.GUID)
}

type pairKey struct {
	writer guid.GUID
	reader guid.GUID
}

// Matcher tracks every discovered writer/reader and the live matches
// between them.
type Matcher struct {
	mu       sync.Mutex
	registry *entity.Registry
	hooks    Hooks
	writers  map[guid.GUID]*Endpoint
	readers  map[guid.GUID]*Endpoint
	matched  map[pairKey]struct{}
}

// New creates a Matcher. registry may be nil if status reporting isn't
// needed (e.g. in unit tests exercising only the pairing logic).
func New(registry *entity.Registry, hooks Hooks) *Matcher {
	return &Matcher{
		registry: registry,
		hooks:    hooks,
		writers:  make(map[guid.GUID]*Endpoint),
		readers:  make(map[guid.GUID]*Endpoint),
		matched:  make(map[pairKey]struct{}),
	}
}

// AddWriter registers a discovered writer and attempts to match it
// against every known reader on the same topic.
func (m *Matcher) AddWriter(ctx context.Context, ep *Endpoint) {
	ep.leaseExpiry = m.leaseDeadline(ep.Qos)
	m.mu.Lock()
	m.writers[ep.GUID] = ep
	readers := m.readersForTopic(ep.TopicName)
	m.mu.Unlock()

	for _, r := range readers {
		m.tryMatch(ctx, ep, r)
	}
}

// AddReader registers a discovered reader and attempts to match it
// against every known writer on the same topic.
func (m *Matcher) AddReader(ctx context.Context, ep *Endpoint) {
	ep.leaseExpiry = m.leaseDeadline(ep.Qos)
	m.mu.Lock()
	m.readers[ep.GUID] = ep
	writers := m.writersForTopic(ep.TopicName)
	m.mu.Unlock()

	for _, w := range writers {
		m.tryMatch(ctx, w, ep)
	}
}

// RemoveWriter tears down every match involving writer g, reporting
// PUBLICATION_MATCHED(-1)/SUBSCRIPTION_MATCHED(-1) on both sides of each
// torn-down pair the same way tryMatch reports the positive match.
func (m *Matcher) RemoveWriter(ctx context.Context, g guid.GUID) {
	m.mu.Lock()
	var torn []pairKey
	for k := range m.matched {
		if k.writer == g {
			torn = append(torn, k)
			delete(m.matched, k)
		}
	}
	m.mu.Unlock()

	m.reportTornDown(ctx, torn)

	m.mu.Lock()
	delete(m.writers, g)
	m.mu.Unlock()
}

// RemoveReader tears down every match involving reader g, symmetric to
// RemoveWriter.
func (m *Matcher) RemoveReader(ctx context.Context, g guid.GUID) {
	m.mu.Lock()
	var torn []pairKey
	for k := range m.matched {
		if k.reader == g {
			torn = append(torn, k)
			delete(m.matched, k)
		}
	}
	m.mu.Unlock()

	m.reportTornDown(ctx, torn)

	m.mu.Lock()
	delete(m.readers, g)
	m.mu.Unlock()
}

func (m *Matcher) reportTornDown(ctx context.Context, torn []pairKey) {
	for _, k := range torn {
		if m.hooks.OnUnmatch != nil {
			m.hooks.OnUnmatch(k.writer, k.reader)
		}
		if m.registry == nil {
			continue
		}
		if w, ok := m.entityFor(k.writer); ok {
			m.registry.RaiseStatus(ctx, w, ddsevents.StatusPublicationMatched, -1, "")
		}
		if r, ok := m.entityFor(k.reader); ok {
			m.registry.RaiseStatus(ctx, r, ddsevents.StatusSubscriptionMatched, -1, "")
		}
	}
}

// UpdateWriter re-evaluates writer g's match against every reader it is
// currently paired with after a mutable QoS change (spec.md §4.6's
// compatible-policy re-check): pairs that are still compatible are left
// alone, pairs that became incompatible are torn down and reported via
// reportTornDown exactly like a RemoveWriter, and the writer's QoS is
// updated in place so future AddReader calls see the new value.
func (m *Matcher) UpdateWriter(ctx context.Context, g guid.GUID, newQos qos.Qos) {
	m.mu.Lock()
	w, ok := m.writers[g]
	if !ok {
		m.mu.Unlock()
		return
	}
	w.Qos = newQos
	var broken []pairKey
	for k := range m.matched {
		if k.writer != g {
			continue
		}
		r, ok := m.readers[k.reader]
		if !ok {
			continue
		}
		if res := qos.Match(r.Qos, newQos); !res.Compatible {
			broken = append(broken, k)
			delete(m.matched, k)
		}
	}
	candidates := m.readersForTopic(w.TopicName)
	m.mu.Unlock()

	m.reportTornDown(ctx, broken)
	for _, r := range candidates {
		m.tryMatch(ctx, w, r)
	}
}

// UpdateReader is UpdateWriter's mirror for a reader's mutable QoS change.
func (m *Matcher) UpdateReader(ctx context.Context, g guid.GUID, newQos qos.Qos) {
	m.mu.Lock()
	r, ok := m.readers[g]
	if !ok {
		m.mu.Unlock()
		return
	}
	r.Qos = newQos
	var broken []pairKey
	for k := range m.matched {
		if k.reader != g {
			continue
		}
		w, ok := m.writers[k.writer]
		if !ok {
			continue
		}
		if res := qos.Match(newQos, w.Qos); !res.Compatible {
			broken = append(broken, k)
			delete(m.matched, k)
		}
	}
	candidates := m.writersForTopic(r.TopicName)
	m.mu.Unlock()

	m.reportTornDown(ctx, broken)
	for _, w := range candidates {
		m.tryMatch(ctx, w, r)
	}
}

// Touch refreshes a writer or reader's liveliness lease, called on
// every manual or automatic liveliness assertion.
func (m *Matcher) Touch(g guid.GUID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[g]; ok {
		w.leaseExpiry = now.Add(leaseDuration(w.Qos))
	}
	if r, ok := m.readers[g]; ok {
		r.leaseExpiry = now.Add(leaseDuration(r.Qos))
	}
}

// Sweep removes any endpoint whose liveliness lease has expired,
// tearing down its matches the way RemoveWriter/RemoveReader do,
// raising LIVELINESS_LOST on the expired endpoint itself, and returns
// the expired GUIDs.
func (m *Matcher) Sweep(ctx context.Context, now time.Time) []guid.GUID {
	m.mu.Lock()
	var expired []guid.GUID
	for g, w := range m.writers {
		if !w.leaseExpiry.IsZero() && now.After(w.leaseExpiry) {
			expired = append(expired, g)
		}
	}
	for g, r := range m.readers {
		if !r.leaseExpiry.IsZero() && now.After(r.leaseExpiry) {
			expired = append(expired, g)
		}
	}
	m.mu.Unlock()

	for _, g := range expired {
		e, ok := m.entityFor(g)
		m.RemoveWriter(ctx, g)
		m.RemoveReader(ctx, g)
		if m.registry != nil && ok {
			m.registry.RaiseStatus(ctx, e, ddsevents.StatusLivelinessLost, 1, "")
		}
	}
	return expired
}

func (m *Matcher) entityFor(g guid.GUID) (*entity.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[g]; ok {
		return w.Entity, true
	}
	if r, ok := m.readers[g]; ok {
		return r.Entity, true
	}
	return nil, false
}

func (m *Matcher) readersForTopic(topic string) []*Endpoint {
	var out []*Endpoint
	for _, r := range m.readers {
		if r.TopicName == topic {
			out = append(out, r)
		}
	}
	return out
}

func (m *Matcher) writersForTopic(topic string) []*Endpoint {
	var out []*Endpoint
	for _, w := range m.writers {
		if w.TopicName == topic {
			out = append(out, w)
		}
	}
	return out
}

func (m *Matcher) tryMatch(ctx context.Context, w, r *Endpoint) {
	res := qos.Match(r.Qos, w.Qos)
	key := pairKey{writer: w.GUID, reader: r.GUID}

	if !res.Compatible {
		if m.registry != nil {
			policy := res.FirstBad.String()
			if w.Entity != nil {
				m.registry.RaiseStatus(ctx, w.Entity, ddsevents.StatusOfferedIncompatible, 1, policy)
			}
			if r.Entity != nil {
				m.registry.RaiseStatus(ctx, r.Entity, ddsevents.StatusRequestedIncompatible, 1, policy)
			}
		}
		return
	}

	m.mu.Lock()
	if _, already := m.matched[key]; already {
		m.mu.Unlock()
		return
	}
	m.matched[key] = struct{}{}
	m.mu.Unlock()

	if m.hooks.OnMatch != nil {
		m.hooks.OnMatch(w, r)
	}
	if m.registry != nil {
		if w.Entity != nil {
			m.registry.RaiseStatus(ctx, w.Entity, ddsevents.StatusPublicationMatched, 1, "")
		}
		if r.Entity != nil {
			m.registry.RaiseStatus(ctx, r.Entity, ddsevents.StatusSubscriptionMatched, 1, "")
		}
	}
}

func (m *Matcher) leaseDeadline(q qos.Qos) time.Time {
	d := leaseDuration(q)
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func leaseDuration(q qos.Qos) time.Duration {
	if q.Liveliness.LeaseDuration <= 0 || q.Liveliness.LeaseDuration == qos.Infinite {
		return 0
	}
	return q.Liveliness.LeaseDuration
}
