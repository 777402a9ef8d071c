package whc

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/retcode"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
)

// whcMetrics holds OTel metric instruments for the writer history
// cache. They register against the global delegating provider at
// import time, so they start forwarding once metrics.Init runs.
var whcMetrics struct {
	inserts  metric.Int64Counter
	evicted  metric.Int64Counter
	dropped  metric.Int64Counter
	rejected metric.Int64Counter
	blocked  metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/rtpsmesh/ddscore/internal/whc")
	whcMetrics.inserts, _ = m.Int64Counter("ddscore.whc.inserts",
		metric.WithDescription("Samples inserted into a writer history cache"),
		metric.WithUnit("{sample}"),
	)
	whcMetrics.evicted, _ = m.Int64Counter("ddscore.whc.evicted",
		metric.WithDescription("Samples evicted by a KEEP_LAST history bound"),
		metric.WithUnit("{sample}"),
	)
	whcMetrics.dropped, _ = m.Int64Counter("ddscore.whc.dropped",
		metric.WithDescription("Samples dropped from a writer history cache once every reliable reader has acked them"),
		metric.WithUnit("{sample}"),
	)
	whcMetrics.rejected, _ = m.Int64Counter("ddscore.whc.rejected",
		metric.WithDescription("Best-effort samples rejected on Insert because the high-water mark was reached"),
		metric.WithUnit("{sample}"),
	)
	whcMetrics.blocked, _ = m.Int64Counter("ddscore.whc.blocked",
		metric.WithDescription("Reliable Insert calls that blocked on the high-water mark"),
		metric.WithUnit("{call}"),
	)
}

type node struct {
	entry Entry
}

type readerAck struct {
	acked    seqnum.SeqNum
	reliable bool
	// transientLocal marks a reader that joined under TRANSIENT_LOCAL
	// durability: its presence alone (regardless of ack) is not enough
	// to hold back drop — only DowngradeToVolatile cares about it.
	transientLocal bool
}

// Keyed is the real, QoS-aware Writer History Cache: an ordered store of
// unacked samples with per-instance KEEP_LAST bounding. One instance per
// local writer.
type Keyed struct {
	mu sync.Mutex

	historyKeepLast bool
	depth           int // meaningful only when historyKeepLast

	order      *list.List // of *node, strictly increasing by Seq
	elems      map[seqnum.SeqNum]*list.Element
	byInstance map[tkmap.InstanceID][]seqnum.SeqNum

	maxSeq seqnum.SeqNum

	readers map[guid.GUID]*readerAck

	// Backpressure (spec.md §4.3's watermark pair), configured via
	// SetWatermarks. Zero highWater means unbounded — the default, so a
	// bare NewKeyed behaves exactly as before watermarks existed.
	reliable        bool
	lowWater        int
	highWater       int
	initHighWater   int
	maxBlockingTime time.Duration
	everAcked       bool
	cond            *sync.Cond
}

// NewKeyed creates a Keyed WHC. keepLast/depth mirror the writer's
// HISTORY policy (spec.md §4.3's "KEEP_LAST additionally retains only
// the most recent N samples per instance").
func NewKeyed(keepLast bool, depth int) *Keyed {
	k := &Keyed{
		historyKeepLast: keepLast,
		depth:           depth,
		order:           list.New(),
		elems:           make(map[seqnum.SeqNum]*list.Element),
		byInstance:      make(map[tkmap.InstanceID][]seqnum.SeqNum),
		maxSeq:          seqnum.Sentinel,
		readers:         make(map[guid.GUID]*readerAck),
	}
	k.cond = sync.NewCond(&k.mu)
	return k
}

// SetWatermarks configures Insert's backpressure behavior (spec.md
// §4.3/§6's whc_lowwater_mark, whc_highwater_mark, whc_init_highwater_mark
// and whc_max_blocking_time): reliable selects whether a writer blocks
// (true) or drops (false) once the cache reaches its high-water mark.
// initHigh applies in place of high until the first reliable reader ack
// is ever recorded, giving a freshly matched writer room to buffer an
// initial burst before the steady-state mark takes over. A zero high
// disables backpressure entirely.
func (k *Keyed) SetWatermarks(reliable bool, low, high, initHigh int, maxBlockingTime time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.reliable = reliable
	k.lowWater = low
	k.highWater = high
	k.initHighWater = initHigh
	k.maxBlockingTime = maxBlockingTime
}

// effectiveHighWaterLocked returns whc_init_highwater_mark until the
// first reliable reader ack arrives, then whc_highwater_mark.
func (k *Keyed) effectiveHighWaterLocked() int {
	if !k.everAcked && k.initHighWater > 0 {
		return k.initHighWater
	}
	return k.highWater
}

// resumeThresholdLocked is the occupancy a blocked Insert waits to drop
// to or below: the low-water mark if one is configured below the
// high-water mark (hysteresis), otherwise one less than the high-water
// mark (resume as soon as a single slot frees).
func (k *Keyed) resumeThresholdLocked() int {
	high := k.effectiveHighWaterLocked()
	if k.lowWater > 0 && k.lowWater < high {
		return k.lowWater
	}
	if high > 0 {
		return high - 1
	}
	return 0
}

func (k *Keyed) Insert(ctx context.Context, seq seqnum.SeqNum, expiry time.Time, sd *serdata.Serdata, tk tkmap.InstanceID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !seq.Valid() {
		return fmt.Errorf("whc: insert: seq %d is not a valid sequence number", seq)
	}
	if !k.maxSeq.None() && seq <= k.maxSeq {
		// Fatal invariant violation per spec.md §7: non-monotonic WHC
		// insert indicates corruption, not a recoverable condition.
		panic(fmt.Sprintf("whc: non-monotonic insert: seq %d <= max_seq %d", seq, k.maxSeq))
	}

	if high := k.effectiveHighWaterLocked(); high > 0 && k.order.Len() >= high {
		if !k.reliable {
			whcMetrics.rejected.Add(context.Background(), 1)
			return retcode.New(retcode.OutOfResources, "whc: high-water mark %d reached, dropping best-effort sample %d", high, seq)
		}
		whcMetrics.blocked.Add(context.Background(), 1)
		if err := k.waitForRoomLocked(ctx); err != nil {
			return err
		}
	}

	e := Entry{
		Seq:      seq,
		Serdata:  sd.Ref(),
		Instance: tk,
		Unacked:  len(k.reliableReaders()) > 0,
	}
	elem := k.order.PushBack(&node{entry: e})
	k.elems[seq] = elem
	k.maxSeq = seq
	whcMetrics.inserts.Add(context.Background(), 1)

	k.byInstance[tk] = append(k.byInstance[tk], seq)
	if k.historyKeepLast && k.depth > 0 {
		q := k.byInstance[tk]
		for len(q) > k.depth {
			oldest := q[0]
			q = q[1:]
			k.removeSeqLocked(oldest)
			whcMetrics.evicted.Add(context.Background(), 1)
		}
		k.byInstance[tk] = q
	}

	k.recomputeUnackedLocked()
	return nil
}

// waitForRoomLocked blocks the calling goroutine, with k.mu held between
// wakeups, until occupancy drops to resumeThresholdLocked(), ctx is
// canceled, or maxBlockingTime elapses. Both paths that free room
// (RemoveAckedMessages, DowngradeToVolatile) broadcast
// k.cond; a timer and a ctx watcher broadcast it too so a stuck writer
// always re-evaluates rather than sleeping forever.
func (k *Keyed) waitForRoomLocked(ctx context.Context) error {
	var deadline time.Time
	if k.maxBlockingTime > 0 {
		deadline = time.Now().Add(k.maxBlockingTime)
		timer := time.AfterFunc(k.maxBlockingTime, func() {
			k.mu.Lock()
			k.cond.Broadcast()
			k.mu.Unlock()
		})
		defer timer.Stop()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			k.mu.Lock()
			k.cond.Broadcast()
			k.mu.Unlock()
		case <-done:
		}
	}()

	for k.order.Len() > k.resumeThresholdLocked() {
		if err := ctx.Err(); err != nil {
			return retcode.New(retcode.Timeout, "whc: insert canceled while waiting for room: %v", err)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return retcode.New(retcode.Timeout, "whc: max_blocking_time exceeded waiting to drop below %d", k.resumeThresholdLocked())
		}
		k.cond.Wait()
	}
	return nil
}

// removeSeqLocked detaches the entry at seq from the order list and
// index, releasing its Serdata reference. Caller must hold k.mu.
func (k *Keyed) removeSeqLocked(seq seqnum.SeqNum) (Entry, bool) {
	elem, ok := k.elems[seq]
	if !ok {
		return Entry{}, false
	}
	n := elem.Value.(*node)
	k.order.Remove(elem)
	delete(k.elems, seq)
	n.entry.Serdata.Unref()
	return n.entry, true
}

func (k *Keyed) reliableReaders() []*readerAck {
	var out []*readerAck
	for _, ra := range k.readers {
		if ra.reliable {
			out = append(out, ra)
		}
	}
	return out
}

// dropSeqLocked computes the WHC's own drop threshold (spec.md §9's
// resolution of the max_drop_seq open question): the minimum ack among
// reliable readers, or the current max_seq if there are none (nothing
// reliable is waiting on anything).
func (k *Keyed) dropSeqLocked() seqnum.SeqNum {
	reliable := k.reliableReaders()
	if len(reliable) == 0 {
		return k.maxSeq
	}
	min := seqnum.Sentinel
	for _, ra := range reliable {
		if min.None() || ra.acked < min {
			min = ra.acked
		}
	}
	return min
}

func (k *Keyed) recomputeUnackedLocked() {
	drop := k.dropSeqLocked()
	for e := k.order.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		n.entry.Unacked = n.entry.Seq > drop
	}
}

func (k *Keyed) RemoveAckedMessages() (int, []Entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	drop := k.dropSeqLocked()
	var removed []Entry
	for e := k.order.Front(); e != nil; {
		n := e.Value.(*node)
		next := e.Next()
		if n.entry.Seq > drop {
			break
		}
		k.order.Remove(e)
		delete(k.elems, n.entry.Seq)
		removed = append(removed, n.entry) // Serdata ref transferred to caller
		e = next
	}
	if len(removed) > 0 {
		whcMetrics.dropped.Add(context.Background(), int64(len(removed)))
		k.cond.Broadcast()
	}
	return len(removed), removed
}

func (k *Keyed) FreeDeferredFreeList(deferred []Entry) {
	for _, e := range deferred {
		e.Serdata.Unref()
	}
}

func (k *Keyed) BorrowSample(seq seqnum.SeqNum) (Entry, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	elem, ok := k.elems[seq]
	if !ok {
		return Entry{}, false
	}
	return elem.Value.(*node).entry, true
}

func (k *Keyed) BorrowSampleKey(key serdata.KeyHash) (Entry, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var found Entry
	ok := false
	for e := k.order.Back(); e != nil; e = e.Prev() {
		n := e.Value.(*node)
		if n.entry.Serdata.Key() == key {
			found = n.entry
			ok = true
			break
		}
	}
	return found, ok
}

func (k *Keyed) ReturnSample(e Entry, retransmitted bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	elem, ok := k.elems[e.Seq]
	if !ok {
		return
	}
	n := elem.Value.(*node)
	if retransmitted {
		n.entry.LastRetransmitTime = time.Now()
		n.entry.RetransmitCount++
	}
}

func (k *Keyed) NextSeq(seq seqnum.SeqNum) (seqnum.SeqNum, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for e := k.order.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		if n.entry.Seq > seq {
			return n.entry.Seq, true
		}
	}
	return 0, false
}

type keyedIterator struct {
	k    *Keyed
	next *list.Element
}

func (it *keyedIterator) Next() (Entry, bool) {
	it.k.mu.Lock()
	defer it.k.mu.Unlock()
	if it.next == nil {
		return Entry{}, false
	}
	n := it.next.Value.(*node)
	it.next = it.next.Next()
	return n.entry, true
}

func (k *Keyed) IterInit() Iterator {
	k.mu.Lock()
	defer k.mu.Unlock()
	return &keyedIterator{k: k, next: k.order.Front()}
}

func (k *Keyed) GetState() State {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := State{MinSeq: seqnum.Sentinel, MaxSeq: k.maxSeq}
	if front := k.order.Front(); front != nil {
		st.MinSeq = front.Value.(*node).entry.Seq
	} else {
		st.MaxSeq = seqnum.Sentinel
	}
	for e := k.order.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		if n.entry.Unacked {
			st.UnackedBytes += int64(len(n.entry.Serdata.Payload()))
		}
	}
	return st
}

func (k *Keyed) DowngradeToVolatile() (int, []Entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	hasTransientLocal := false
	for _, ra := range k.readers {
		if ra.transientLocal {
			hasTransientLocal = true
			break
		}
	}
	if !hasTransientLocal {
		return 0, nil
	}
	for guid := range k.readers {
		k.readers[guid].transientLocal = false
	}

	// Everything that isn't still needed by a reliable ack may now go.
	drop := k.dropSeqLocked()
	var removed []Entry
	for e := k.order.Front(); e != nil; {
		n := e.Value.(*node)
		next := e.Next()
		if n.entry.Seq > drop {
			break
		}
		k.order.Remove(e)
		delete(k.elems, n.entry.Seq)
		removed = append(removed, n.entry)
		e = next
	}
	if len(removed) > 0 {
		k.cond.Broadcast()
	}
	return len(removed), removed
}

func (k *Keyed) UpdateReaderAck(reader guid.GUID, acked seqnum.SeqNum, reliable bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ra, ok := k.readers[reader]
	if !ok {
		ra = &readerAck{}
		k.readers[reader] = ra
	}
	if acked > ra.acked || ra.acked.None() {
		ra.acked = acked
	}
	ra.reliable = reliable
	if reliable && !acked.None() {
		k.everAcked = true
	}
	k.recomputeUnackedLocked()
}

func (k *Keyed) RemoveReader(reader guid.GUID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.readers, reader)
	k.recomputeUnackedLocked()
}

// MarkTransientLocal records that reader joined this writer under
// TRANSIENT_LOCAL durability, so DowngradeToVolatile knows it must drop
// retained-for-late-joiner samples if that reader's QoS later changes.
func (k *Keyed) MarkTransientLocal(reader guid.GUID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ra, ok := k.readers[reader]
	if !ok {
		ra = &readerAck{}
		k.readers[reader] = ra
	}
	ra.transientLocal = true
}

var _ WHC = (*Keyed)(nil)
