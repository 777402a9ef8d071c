// Package entity implements the entity/handle registry and listener
// dispatch of spec.md §4.7: every entity gets a stable integer handle,
// pin/unpin takes a reference atomically (failing once the entity is
// closing), and deletion is two-phase (close, then delete once pinned
// count reaches zero) with children deleted depth-first before the
// parent.
package entity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/guid"
)

// Handle is the stable integer identifier of spec.md §4.7.
type Handle uint64

// Entity is one node in the entity tree (participant, topic, writer, or
// reader). Locking discipline follows spec.md §5: m_mutex guards the
// entity's own state, m_observers_lock guards status+listener state,
// and m_mutex must never be acquired while holding m_observers_lock.
type Entity struct {
	handle Handle
	GUID   guid.GUID
	Kind   guid.EntityKind

	mu       sync.Mutex // m_mutex
	parent   *Entity
	children map[Handle]*Entity

	pinCount int32 // atomic
	closing  int32 // atomic bool

	closeCond *sync.Cond // signaled when pinCount reaches 0 after closing

	observersMu sync.Mutex // m_observers_lock
	status      map[ddsevents.StatusKind]int32
	listener    ddsevents.Handler
	resetMask   map[ddsevents.StatusKind]bool

	waitsets map[Handle]func() // signal funcs for attached waitsets
}

// HandleID returns the entity's stable handle.
func (e *Entity) HandleID() Handle { return e.handle }

// Registry owns every entity's handle and its position in the tree.
type Registry struct {
	mu       sync.Mutex
	next     Handle
	entities map[Handle]*Entity
	bus      *ddsevents.Bus
}

// NewRegistry creates an empty Registry, dispatching status events
// through bus.
func NewRegistry(bus *ddsevents.Bus) *Registry {
	return &Registry{entities: make(map[Handle]*Entity), bus: bus}
}

// Create registers a new entity as a child of parent (nil for a
// participant), returning its handle.
func (r *Registry) Create(parent *Entity, g guid.GUID, kind guid.EntityKind) *Entity {
	r.mu.Lock()
	r.next++
	h := r.next
	r.mu.Unlock()

	e := &Entity{
		handle:    h,
		GUID:      g,
		Kind:      kind,
		parent:    parent,
		children:  make(map[Handle]*Entity),
		status:    make(map[ddsevents.StatusKind]int32),
		resetMask: make(map[ddsevents.StatusKind]bool),
		waitsets:  make(map[Handle]func()),
	}
	e.closeCond = sync.NewCond(&e.mu)

	r.mu.Lock()
	r.entities[h] = e
	r.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		parent.children[h] = e
		parent.mu.Unlock()
	}
	return e
}

// Pin atomically takes a reference to the entity at h, failing if it is
// closing or already deleted.
func (r *Registry) Pin(h Handle) (*Entity, bool) {
	r.mu.Lock()
	e, ok := r.entities[h]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e, e.pin()
}

func (e *Entity) pin() bool {
	for {
		if atomic.LoadInt32(&e.closing) != 0 {
			return false
		}
		cur := atomic.LoadInt32(&e.pinCount)
		if atomic.CompareAndSwapInt32(&e.pinCount, cur, cur+1) {
			return true
		}
	}
}

// Unpin drops a reference taken by Pin, waking anyone waiting on the
// pin count during Delete.
func (e *Entity) Unpin() {
	if atomic.AddInt32(&e.pinCount, -1) == 0 {
		e.mu.Lock()
		e.closeCond.Broadcast()
		e.mu.Unlock()
	}
}

// Close marks e not-pinnable and wakes anyone waiting for its pin count
// to drain (spec.md §4.7's "close marks not-pinnable").
func (r *Registry) Close(e *Entity) {
	atomic.StoreInt32(&e.closing, 1)
	e.mu.Lock()
	e.closeCond.Broadcast()
	e.mu.Unlock()
}

// Delete runs after Close, once the pin count has reached zero,
// recursing depth-first into children first (spec.md §4.7).
func (r *Registry) Delete(e *Entity) {
	r.Close(e)

	e.mu.Lock()
	for atomic.LoadInt32(&e.pinCount) != 0 {
		e.closeCond.Wait()
	}
	children := make([]*Entity, 0, len(e.children))
	for _, c := range e.children {
		children = append(children, c)
	}
	e.mu.Unlock()

	for _, c := range children {
		r.Delete(c)
	}

	if e.parent != nil {
		e.parent.mu.Lock()
		delete(e.parent.children, e.handle)
		e.parent.mu.Unlock()
	}

	r.mu.Lock()
	delete(r.entities, e.handle)
	r.mu.Unlock()

	r.interruptWaitsets(e)
}

func (r *Registry) interruptWaitsets(e *Entity) {
	e.observersMu.Lock()
	signals := make([]func(), 0, len(e.waitsets))
	for _, s := range e.waitsets {
		signals = append(signals, s)
	}
	e.observersMu.Unlock()
	for _, s := range signals {
		s()
	}
}

// AttachWaitset registers a wake function called whenever e's status
// changes or e is deleted, keyed by id; DetachWaitset(id) removes it.
func (e *Entity) AttachWaitset(id Handle, wake func()) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.waitsets[id] = wake
}

// DetachWaitset removes a previously attached wake function.
func (e *Entity) DetachWaitset(id Handle) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	delete(e.waitsets, id)
}

// SetListener installs the entity's status callback (spec.md §4.7's
// STATUS_CB_IMPL); resetMask clears those bits automatically after
// each invocation.
func (e *Entity) SetListener(h ddsevents.Handler, resetMask []ddsevents.StatusKind) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.listener = h
	e.resetMask = make(map[ddsevents.StatusKind]bool, len(resetMask))
	for _, k := range resetMask {
		e.resetMask[k] = true
	}
}

// RaiseStatus implements spec.md §4.7's dispatch sequence: acquire
// observers lock, update the status counter, invoke the callback with
// the lock released, optionally reset the field, then re-acquire and
// signal attached waitsets.
func (r *Registry) RaiseStatus(ctx context.Context, e *Entity, kind ddsevents.StatusKind, delta int32, policy string) {
	e.observersMu.Lock()
	e.status[kind] += delta
	listener := e.listener
	shouldReset := e.resetMask[kind]
	e.observersMu.Unlock()

	ev := &ddsevents.Event{Kind: kind, Entity: e.GUID, Count: delta, Policy: policy}
	if r.bus != nil {
		r.bus.Dispatch(ctx, ev)
	}
	if listener != nil {
		_ = listener.Handle(ctx, ev)
	}

	e.observersMu.Lock()
	if shouldReset {
		e.status[kind] = 0
	}
	e.observersMu.Unlock()

	r.interruptWaitsets(e)
}

// StatusValue returns the current counter for kind.
func (e *Entity) StatusValue(kind ddsevents.StatusKind) int32 {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	return e.status[kind]
}
