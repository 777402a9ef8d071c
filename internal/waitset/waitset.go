// Package waitset implements the waitset of spec.md §4.8: callers
// attach (observed_entity, attach_cookie) pairs and block in wait()
// until at least one attached entity's triggered predicate is true, at
// which point the triggered cookies are returned.
package waitset

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtpsmesh/ddscore/internal/entity"
)

var nextID uint64

// TriggeredFunc reports whether an attached entity currently has
// something to report (new data, a status change, a guard flip).
type TriggeredFunc func() bool

type attachment struct {
	cookie    interface{}
	triggered TriggeredFunc
}

// WaitSet blocks a caller until one or more attached entities trigger.
type WaitSet struct {
	id entity.Handle

	mu          sync.Mutex
	attachments map[entity.Handle]*attachment
	signal      chan struct{}
}

// New creates an empty WaitSet.
func New() *WaitSet {
	return &WaitSet{
		id:          entity.Handle(atomic.AddUint64(&nextID, 1)),
		attachments: make(map[entity.Handle]*attachment),
		signal:      make(chan struct{}, 1),
	}
}

// Attach registers e under cookie, using triggered to decide if e has
// something pending each time Wait wakes up. Attaching an entity twice
// replaces its previous cookie and predicate.
func (w *WaitSet) Attach(e *entity.Entity, cookie interface{}, triggered TriggeredFunc) {
	w.mu.Lock()
	w.attachments[e.HandleID()] = &attachment{cookie: cookie, triggered: triggered}
	w.mu.Unlock()

	e.AttachWaitset(w.id, w.nudge)
	w.nudge()
}

// Detach removes a previously attached entity.
func (w *WaitSet) Detach(e *entity.Entity) {
	w.mu.Lock()
	delete(w.attachments, e.HandleID())
	w.mu.Unlock()
	e.DetachWaitset(w.id)
}

func (w *WaitSet) nudge() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// ErrTimeout is returned by Wait when timeout elapses with nothing
// triggered.
var ErrTimeout = fmt.Errorf("waitset: wait timed out")

// Wait blocks until at least one attached entity is triggered, ctx is
// done, or timeout elapses (timeout <= 0 means wait forever), returning
// the cookies of every entity that is triggered at the moment it
// wakes.
func (w *WaitSet) Wait(ctx context.Context, timeout time.Duration) ([]interface{}, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if cookies := w.triggeredCookies(); len(cookies) > 0 {
			return cookies, nil
		}
		select {
		case <-w.signal:
			continue
		case <-deadline:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (w *WaitSet) triggeredCookies() []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []interface{}
	for _, a := range w.attachments {
		if a.triggered != nil && a.triggered() {
			out = append(out, a.cookie)
		}
	}
	return out
}

// DataOnReaders composes the DATA_ON_READERS condition of spec.md
// §4.8: a subscriber-level predicate true whenever any of its attached
// readers has data available. Materializing it means calling Attach
// with this as the TriggeredFunc only while at least one caller needs
// it; Readers is refreshed by the owner as readers are created/deleted.
type DataOnReaders struct {
	mu      sync.Mutex
	readers []HasDataAvailable
}

// HasDataAvailable is satisfied by an rhc.RHC.
type HasDataAvailable interface {
	HasDataAvailable() bool
}

// NewDataOnReaders creates an empty DATA_ON_READERS condition.
func NewDataOnReaders() *DataOnReaders { return &DataOnReaders{} }

// AddReader materializes reader's contribution to the condition.
func (d *DataOnReaders) AddReader(r HasDataAvailable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readers = append(d.readers, r)
}

// RemoveReader un-materializes reader's contribution; a no-op if r was
// never added.
func (d *DataOnReaders) RemoveReader(r HasDataAvailable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.readers {
		if existing == r {
			d.readers = append(d.readers[:i], d.readers[i+1:]...)
			return
		}
	}
}

// Triggered implements TriggeredFunc: true if any reader has data.
func (d *DataOnReaders) Triggered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.readers {
		if r.HasDataAvailable() {
			return true
		}
	}
	return false
}
