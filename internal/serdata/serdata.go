// Package serdata implements the Serdata capability: a reference-counted,
// immutable-once-constructed carrier for a serialized sample. The core
// never introspects the payload — wire encoding is an external
// collaborator's job (spec.md §1's "Serdata capability").
package serdata

import (
	"sync/atomic"
	"time"
)

// Kind distinguishes a full data sample from a key-only sample used to
// carry dispose/unregister notifications.
type Kind int

const (
	// KindData carries application payload.
	KindData Kind = iota
	// KindKey carries only the key hash plus status-info bits.
	KindKey
)

func (k Kind) String() string {
	if k == KindData {
		return "DATA"
	}
	return "KEY"
}

// StatusInfo is the 2-bit status-info flag set carried on key-only
// samples.
type StatusInfo uint8

const (
	// StatusDispose marks the instance NOT_ALIVE_DISPOSED.
	StatusDispose StatusInfo = 1 << 0
	// StatusUnregister marks the writer as no longer writing the instance.
	StatusUnregister StatusInfo = 1 << 1
)

func (s StatusInfo) Dispose() bool    { return s&StatusDispose != 0 }
func (s StatusInfo) Unregister() bool { return s&StatusUnregister != 0 }

// KeyHash is an opaque fixed-size digest of a sample's key fields,
// produced by the (external) wire codec.
type KeyHash [16]byte

// Serdata is the opaque serialized-sample carrier. It is immutable once
// constructed; New returns it with a refcount of 1. Multiple WHC/RHC
// entries may share one Serdata via Ref/Unref.
type Serdata struct {
	kind       Kind
	key        KeyHash
	sourceTS   time.Time
	statusInfo StatusInfo
	payload    []byte // opaque to the core

	refcount int32
}

// New constructs a Serdata with refcount 1.
func New(kind Kind, key KeyHash, sourceTS time.Time, statusInfo StatusInfo, payload []byte) *Serdata {
	return &Serdata{
		kind:       kind,
		key:        key,
		sourceTS:   sourceTS,
		statusInfo: statusInfo,
		payload:    payload,
		refcount:   1,
	}
}

func (s *Serdata) Kind() Kind             { return s.kind }
func (s *Serdata) Key() KeyHash           { return s.key }
func (s *Serdata) SourceTimestamp() time.Time { return s.sourceTS }
func (s *Serdata) StatusInfo() StatusInfo { return s.statusInfo }
func (s *Serdata) Payload() []byte        { return s.payload }

// Ref increments the reference count and returns s, for call-site chaining
// (e.g. `entry.sd = sd.Ref()`).
func (s *Serdata) Ref() *Serdata {
	atomic.AddInt32(&s.refcount, 1)
	return s
}

// Unref decrements the reference count. It returns true when the count
// reaches zero, meaning the caller holding the last reference may free
// any external resources now; Serdata itself needs no further action
// since it's a plain struct owned by the garbage collector.
func (s *Serdata) Unref() bool {
	return atomic.AddInt32(&s.refcount, -1) == 0
}

// RefCount returns the current reference count, for diagnostics/tests.
func (s *Serdata) RefCount() int32 {
	return atomic.LoadInt32(&s.refcount)
}
