// Package whc implements the Writer History Cache (spec.md §4.3): the
// per-writer ordered store of unacked samples. The core is a single
// interface (the source's "ops table" pattern, per spec.md §9) with two
// implementations: Keyed (the real, QoS-aware store) and the virtual
// built-in-topic projection in package builtintopic.
package whc

import (
	"context"
	"time"

	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
)

// State is the WHC.get_state() result of spec.md §3: max_seq == -1 iff
// the WHC is empty.
type State struct {
	MinSeq       seqnum.SeqNum
	MaxSeq       seqnum.SeqNum
	UnackedBytes int64
}

// Empty reports whether the WHC holds no samples.
func (s State) Empty() bool { return s.MaxSeq == seqnum.Sentinel }

// Entry is a WHC entry (spec.md §3): one inserted sample plus its
// retransmission bookkeeping. Unacked reports whether at least one
// matched reliable reader has not yet acknowledged Seq.
type Entry struct {
	Seq               seqnum.SeqNum
	Serdata           *serdata.Serdata
	Instance          tkmap.InstanceID
	Unacked           bool
	LastRetransmitTime time.Time
	RetransmitCount   int
}

// Iterator supports a streaming scan over WHC contents in seq order
// (spec.md's sample_iter_init / sample_iter_borrow_next).
type Iterator interface {
	// Next advances and returns the next entry, or ok=false when
	// exhausted. The returned Entry is a read-only snapshot.
	Next() (e Entry, ok bool)
}

// WHC is the Writer History Cache capability of spec.md §4.3.
type WHC interface {
	// Insert appends a sample. seq must be strictly greater than the
	// current max_seq (a fatal invariant violation otherwise — see
	// spec.md §7: non-monotonic insert aborts the process). expiry is
	// the LIFESPAN-derived expiry time; Keyed does not store it and never
	// drops a sample because it has expired.
	//
	// When the cache is configured with a high-water mark (see
	// SetWatermarks on the concrete Keyed type) and that mark is
	// reached, Insert blocks a RELIABLE writer until the low-water mark
	// is reached again, ctx is canceled, or max_blocking_time elapses
	// (returning a retcode.Timeout error), and rejects a BEST_EFFORT
	// writer's sample outright with a retcode.OutOfResources error.
	Insert(ctx context.Context, seq seqnum.SeqNum, expiry time.Time, sd *serdata.Serdata, tk tkmap.InstanceID) error

	// RemoveAckedMessages detaches every entry the WHC has decided may
	// be dropped (spec.md §9: the WHC — not a caller-supplied
	// max_drop_seq — now owns this decision, computed from per-reader
	// acks; KEEP_LAST depth is enforced by Insert). Returns the removed
	// entries as a
	// deferred-free list; the caller must call FreeDeferredFreeList
	// after any in-flight iterators have completed.
	RemoveAckedMessages() (count int, deferred []Entry)

	// FreeDeferredFreeList releases Serdata references held by entries
	// returned from RemoveAckedMessages or DowngradeToVolatile.
	FreeDeferredFreeList(deferred []Entry)

	// BorrowSample lends a read-only reference to the entry at seq, for
	// retransmission or inspection.
	BorrowSample(seq seqnum.SeqNum) (Entry, bool)

	// BorrowSampleKey lends the most recent entry for the instance whose
	// key hash matches.
	BorrowSampleKey(key serdata.KeyHash) (Entry, bool)

	// ReturnSample returns a borrowed entry, optionally updating its
	// retransmit metadata (e.g. after a retransmission attempt).
	ReturnSample(e Entry, retransmitted bool)

	// NextSeq returns the smallest seqno strictly greater than seq that
	// is still present, for prefix iteration.
	NextSeq(seq seqnum.SeqNum) (seqnum.SeqNum, bool)

	// IterInit starts a streaming scan in seq order.
	IterInit() Iterator

	// GetState reports {min_seq, max_seq, unacked_bytes}.
	GetState() State

	// DowngradeToVolatile drops every sample retained only for
	// late-joining TRANSIENT_LOCAL readers (used on a QoS change that
	// removes durability), returning the removed entries.
	DowngradeToVolatile() (count int, deferred []Entry)

	// UpdateReaderAck records that a matched reader has acknowledged
	// every seqno up to and including acked. reliable distinguishes a
	// reliable match (whose ack gates retention) from a best-effort one
	// (whose ack is cosmetic). Triggers recomputation of the WHC's
	// internal drop threshold.
	UpdateReaderAck(reader guid.GUID, acked seqnum.SeqNum, reliable bool)

	// RemoveReader forgets a matched reader's ack state (on match
	// teardown), which may unblock further drops.
	RemoveReader(reader guid.GUID)
}
