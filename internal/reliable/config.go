package reliable

import "time"

// MergePolicy selects how a writer coalesces overlapping retransmit
// requests from multiple readers (spec.md §4.5's "thundering herd"
// answer).
type MergePolicy int

const (
	// MergeNever issues one retransmission per (reader, seq) pair, even
	// when ranges overlap.
	MergeNever MergePolicy = iota
	// MergeAdaptive merges overlapping requests only while every
	// requester's non_responsive_count is zero.
	MergeAdaptive
	// MergeAlways merges every overlapping request into one retransmit.
	MergeAlways
)

// Config holds the per-writer reliability tunables of spec.md §4.5.
type Config struct {
	HeartbeatIntervalBase time.Duration
	HeartbeatIntervalMin  time.Duration
	HeartbeatIntervalMax  time.Duration
	NackDelay             time.Duration
	AckNackDelay          time.Duration
	ResponsivenessTimeout time.Duration
	GiveUpAfter           time.Duration
	Merge                 MergePolicy

	// RexmitBlockSize caps how many samples broadcastRetransmit/
	// retransmitTo send in one pass; the remainder is rescheduled a
	// NackDelay later instead of bursting an unbounded retransmit in
	// response to one large NACK.
	RexmitBlockSize int
}

// DefaultConfig returns reasonable defaults for interactive use.
func DefaultConfig() Config {
	return Config{
		HeartbeatIntervalBase: 100 * time.Millisecond,
		HeartbeatIntervalMin:  100 * time.Millisecond,
		HeartbeatIntervalMax:  3 * time.Second,
		NackDelay:             20 * time.Millisecond,
		AckNackDelay:          10 * time.Millisecond,
		ResponsivenessTimeout: 5 * time.Second,
		GiveUpAfter:           30 * time.Second,
		Merge:                 MergeAdaptive,
		RexmitBlockSize:       64,
	}
}
