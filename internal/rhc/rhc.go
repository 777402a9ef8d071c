// Package rhc implements the Reader History Cache (spec.md §4.4): the
// per-reader keyed store of delivered samples, with sample/view/instance
// state tracking, take/read semantics, and a HasDataAvailable predicate
// that a waitset can poll. It keeps no per-condition (ReadCondition/
// QueryCondition) trigger state and signals no waitset itself. Two
// implementations satisfy the RHC interface per
// spec.md §9's "ops table, at least two implementations" guidance:
// Keyed (the real store) and Mock (a minimal one for unit tests of
// higher layers).
package rhc

import (
	"time"

	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
)

// InstanceState is the per-key liveness state of spec.md §3.
type InstanceState int

const (
	Alive InstanceState = iota
	NotAliveDisposed
	NotAliveNoWriters
)

func (s InstanceState) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case NotAliveDisposed:
		return "NOT_ALIVE_DISPOSED"
	case NotAliveNoWriters:
		return "NOT_ALIVE_NO_WRITERS"
	default:
		return "UNKNOWN"
	}
}

// ViewState tracks whether an instance is new to the reader since its
// last read/take, per spec.md §3.
type ViewState int

const (
	New ViewState = iota
	NotNew
)

// SampleState marks whether a sample slot has been returned to the
// application yet.
type SampleState int

const (
	NotRead SampleState = iota
	Read
)

// Mask is a bitmask over one of the three state dimensions, used by
// take/read and by conditions. ANY matches every value of that
// dimension.
type Mask uint32

const (
	MaskSampleNotRead Mask = 1 << iota
	MaskSampleRead

	MaskViewNew
	MaskViewNotNew

	MaskInstanceAlive
	MaskInstanceDisposed
	MaskInstanceNoWriters
)

const (
	MaskSampleAny   = MaskSampleNotRead | MaskSampleRead
	MaskViewAny     = MaskViewNew | MaskViewNotNew
	MaskInstanceAny = MaskInstanceAlive | MaskInstanceDisposed | MaskInstanceNoWriters
)

// ReadSpec bundles the three masks read/take accept, per spec.md §4.4.
type ReadSpec struct {
	SampleStates   Mask
	ViewStates     Mask
	InstanceStates Mask
	MaxSamples     int
}

// Sample is one returned slot: the serialized data (nil for an
// "invalid" dispose/unregister marker) plus the state snapshot at the
// moment it was returned.
type Sample struct {
	Instance       tkmap.InstanceID
	Serdata        *serdata.Serdata // nil for an invalid-sample marker
	SampleState    SampleState
	ViewState      ViewState
	InstanceState  InstanceState
	SourceTime     time.Time
	ReceptionTime  time.Time
	WriterInstance uint64 // writer iid, opaque identity of the originating writer
}

// WriterInfo identifies the writer a sample arrived from, for the
// no-writers-generation and ownership-strength bookkeeping of
// spec.md §4.4.
type WriterInfo struct {
	WriterIID uint64
	Strength  int32
}

// RHC is the Reader History Cache capability of spec.md §4.4.
type RHC interface {
	// Store delivers one sample into the instance identified by tk.
	// Returns accepted=false when the sample was rejected (resource
	// limits on a reliable RHC, time-based filter, stale ownership) —
	// rejections are counted, never raised as errors (spec.md §7).
	Store(wi WriterInfo, sd *serdata.Serdata, tk tkmap.InstanceID) (accepted bool)

	// Take returns up to spec.MaxSamples matching samples and removes
	// them from the cache.
	Take(spec ReadSpec) []Sample

	// Read returns up to spec.MaxSamples matching samples, marking them
	// Read but leaving them in the cache.
	Read(spec ReadSpec) []Sample

	// HasDataAvailable reports whether any NOT_READ sample exists
	// (spec.md §4.4's on_data_available synthesis).
	HasDataAvailable() bool

	// InstanceCount reports the number of instances currently tracked
	// (for resource-limit accounting by callers).
	InstanceCount() int
}
