// Package reliable implements the reliable-delivery state machine of
// spec.md §4.5: per-writer heartbeat scheduling and acknack processing
// on one side, per-reader heartbeat tracking and reorder-driven delivery
// on the other.
package reliable

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/sched"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/transport"
	"github.com/rtpsmesh/ddscore/internal/whc"
)

// reliableMetrics holds OTel metric instruments for the reliable
// delivery state machine, registered the same way the WHC's are.
var reliableMetrics struct {
	nonResponsive metric.Int64Counter
	givenUp       metric.Int64Counter
	retransmitted metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/rtpsmesh/ddscore/internal/reliable")
	reliableMetrics.nonResponsive, _ = m.Int64Counter("ddscore.reliable.non_responsive",
		metric.WithDescription("Reader proxies that crossed the responsiveness timeout"),
		metric.WithUnit("{reader}"),
	)
	reliableMetrics.givenUp, _ = m.Int64Counter("ddscore.reliable.given_up",
		metric.WithDescription("Reader proxies expelled after exceeding give-up time"),
		metric.WithUnit("{reader}"),
	)
	reliableMetrics.retransmitted, _ = m.Int64Counter("ddscore.reliable.retransmitted",
		metric.WithDescription("Samples retransmitted in response to a NACK"),
		metric.WithUnit("{sample}"),
	)
}

// newHeartbeatBackoff drives the clamp(base*2^n, min, max) schedule of
// spec.md §4.5: zero jitter keeps it a pure deterministic doubling, so
// non_responsive_count maps exactly onto NextBackOff() calls.
func newHeartbeatBackoff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.HeartbeatIntervalBase
	bo.MaxInterval = cfg.HeartbeatIntervalMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// WriterListener reports status transitions a matched reader proxy can
// trigger (spec.md §4.5's giveup path).
type WriterListener interface {
	OnNonResponsive(reader guid.GUID)
	OnGiveUp(reader guid.GUID) // LIVELINESS_LOST / PUBLICATION_MATCHED(-1)
}

// WriterProxy is the writer-side state for one matched reliable reader
// (spec.md §3's "writer↔reader match... for a reliable writer").
type WriterProxy struct {
	mu sync.Mutex

	w      *Writer
	reader guid.GUID

	lastSeqAcked       seqnum.SeqNum
	prevAckNackCount   int64
	nonResponsiveCount int
	lastProgressTime   time.Time
	lastHeartbeatTime  time.Time
	hbToAckLatency     time.Duration

	bo      *backoff.ExponentialBackOff
	hbEvent uint64

	expelled bool
}

func newWriterProxy(w *Writer, reader guid.GUID) *WriterProxy {
	p := &WriterProxy{
		w:                w,
		reader:           reader,
		lastSeqAcked:     seqnum.Sentinel,
		lastProgressTime: time.Now(),
		bo:               newHeartbeatBackoff(w.cfg),
	}
	p.scheduleHeartbeatLocked()
	return p
}

// heartbeatIntervalLocked computes clamp(base*2^non_responsive_count, min,
// max) per spec.md §4.5, by replaying NextBackOff() from a fresh Reset()
// exactly non_responsive_count+1 times. That makes the scheduled interval
// a pure function of how many consecutive heartbeats this reader has
// missed, instead of how many times a heartbeat has merely ticked — a
// proxy that keeps acknacking on time stays pinned to the base interval
// no matter how long it has been matched.
func (p *WriterProxy) heartbeatIntervalLocked() time.Duration {
	p.bo.Reset()
	steps := p.nonResponsiveCount
	if steps > 32 {
		steps = 32 // already pinned at MaxInterval well before this
	}
	var interval time.Duration
	for i := 0; i <= steps; i++ {
		interval = p.bo.NextBackOff()
	}
	if interval == backoff.Stop {
		interval = p.w.cfg.HeartbeatIntervalMax
	}
	if interval < p.w.cfg.HeartbeatIntervalMin {
		interval = p.w.cfg.HeartbeatIntervalMin
	}
	return interval
}

func (p *WriterProxy) scheduleHeartbeatLocked() {
	p.hbEvent = p.w.sched.After(p.heartbeatIntervalLocked(), p.onHeartbeatTimer)
}

// onHeartbeatTimer fires both the periodic HEARTBEAT send and the
// responsiveness/giveup check, since both are driven off the same
// clock in spec.md §4.5.
func (p *WriterProxy) onHeartbeatTimer(now time.Time) {
	p.mu.Lock()
	if p.expelled {
		p.mu.Unlock()
		return
	}
	st := p.w.whc.GetState()
	p.w.sender.SendHeartbeat(transport.Heartbeat{
		WriterGUID: p.w.guid,
		ReaderGUID: p.reader,
		First:      st.MinSeq,
		Last:       st.MaxSeq,
		Count:      p.w.nextHBCount(),
	})
	p.lastHeartbeatTime = now

	timedOut := now.Sub(p.lastProgressTime)
	var crossedIntoNonResponsive bool
	if timedOut >= p.w.cfg.ResponsivenessTimeout {
		crossedIntoNonResponsive = p.nonResponsiveCount == 0
		p.nonResponsiveCount++
	}
	if crossedIntoNonResponsive {
		reliableMetrics.nonResponsive.Add(context.Background(), 1)
		cb := p.w.listener
		r := p.reader
		p.mu.Unlock()
		if cb != nil {
			cb.OnNonResponsive(r)
		}
		p.mu.Lock()
	}
	giveUp := p.nonResponsiveCount > 0 && timedOut >= p.w.cfg.GiveUpAfter
	p.scheduleHeartbeatLocked()
	p.mu.Unlock()

	if giveUp {
		p.w.expelProxy(p.reader)
	}
}

// onAckNack processes one ACKNACK per spec.md §4.5's three steps.
func (p *WriterProxy) onAckNack(a transport.AckNack) {
	p.mu.Lock()
	if p.expelled {
		p.mu.Unlock()
		return
	}
	if a.Count <= p.prevAckNackCount {
		p.mu.Unlock()
		return // step 1: stale/duplicate
	}
	p.prevAckNackCount = a.Count

	newAck := a.Base - 1
	progressed := p.lastSeqAcked.None() || newAck > p.lastSeqAcked
	if progressed {
		p.lastSeqAcked = newAck
		p.nonResponsiveCount = 0
		p.lastProgressTime = time.Now()
	}
	p.mu.Unlock()

	p.w.whc.UpdateReaderAck(p.reader, newAck, true)
	p.w.recomputeDrop()

	if a.Bitmap != nil {
		var toRetransmit []seqnum.SeqNum
		a.Bitmap.ForEachSet(func(seq seqnum.SeqNum) bool {
			if _, ok := p.w.whc.BorrowSample(seq); ok {
				toRetransmit = append(toRetransmit, seq)
			}
			return true
		})
		if len(toRetransmit) > 0 {
			p.w.requestRetransmit(p.reader, toRetransmit, p.nonResponsiveCount)
		}
	}

	// a.Final == false means the reader is actively waiting on a fresh
	// HEARTBEAT rather than merely acking on its own schedule; bring the
	// next one forward instead of making it wait out the current
	// responsiveness-driven interval.
	if a.Bitmap != nil && !a.Bitmap.IsEmpty() && !a.Final {
		p.mu.Lock()
		if !p.expelled {
			p.w.sched.Cancel(p.hbEvent)
			p.hbEvent = p.w.sched.After(p.w.cfg.NackDelay, p.onHeartbeatTimer)
		}
		p.mu.Unlock()
	}
}

// Writer is the writer-side orchestrator of spec.md §4.5: one WHC
// shared by every matched reliable reader, each tracked by a
// WriterProxy.
type Writer struct {
	mu      sync.Mutex
	guid    guid.GUID
	whc     whc.WHC
	sender  transport.Sender
	sched   *sched.Scheduler
	cfg     Config
	listener WriterListener

	proxies map[guid.GUID]*WriterProxy
	hbCount int64

	// pending retransmits, merged per spec.md §4.5's policy knob.
	pendingMu sync.Mutex
	pending   map[seqnum.SeqNum]time.Time
	mergeEvt  uint64
}

// NewWriter creates a Writer. cache is the shared WHC; sender/scheduler
// are the transport and timer backends.
func NewWriter(g guid.GUID, cache whc.WHC, sender transport.Sender, sc *sched.Scheduler, cfg Config, listener WriterListener) *Writer {
	return &Writer{
		guid:     g,
		whc:      cache,
		sender:   sender,
		sched:    sc,
		cfg:      cfg,
		listener: listener,
		proxies:  make(map[guid.GUID]*WriterProxy),
		pending:  make(map[seqnum.SeqNum]time.Time),
	}
}

func (w *Writer) nextHBCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hbCount++
	return w.hbCount
}

// MatchReader creates a proxy for a newly matched reliable reader.
func (w *Writer) MatchReader(reader guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.proxies[reader]; ok {
		return
	}
	w.proxies[reader] = newWriterProxy(w, reader)
	w.whc.UpdateReaderAck(reader, seqnum.Sentinel, true)
}

// UnmatchReader tears down a proxy (peer loss, local delete, QoS
// change that breaks matching).
func (w *Writer) UnmatchReader(reader guid.GUID) {
	w.mu.Lock()
	p, ok := w.proxies[reader]
	if ok {
		delete(w.proxies, reader)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.expelled = true
	w.sched.Cancel(p.hbEvent)
	p.mu.Unlock()
	w.whc.RemoveReader(reader)
}

func (w *Writer) expelProxy(reader guid.GUID) {
	w.mu.Lock()
	p, ok := w.proxies[reader]
	if ok {
		delete(w.proxies, reader)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.expelled = true
	p.mu.Unlock()
	w.whc.RemoveReader(reader)
	reliableMetrics.givenUp.Add(context.Background(), 1)
	if w.listener != nil {
		w.listener.OnGiveUp(reader)
	}
}

// OnAckNack routes an inbound ACKNACK to its reader's proxy.
func (w *Writer) OnAckNack(a transport.AckNack) {
	w.mu.Lock()
	p, ok := w.proxies[a.ReaderGUID]
	w.mu.Unlock()
	if ok {
		p.onAckNack(a)
	}
}

// OnNackFrag routes an inbound NACKFRAG to its reader's proxy. This core
// never emits DataFrag/HeartbeatFrag — outbound samples are never split
// — so a requested fragment range is fully satisfied by retransmitting
// the whole unfragmented sample at that sequence number.
func (w *Writer) OnNackFrag(n transport.NackFrag) {
	w.mu.Lock()
	p, ok := w.proxies[n.ReaderGUID]
	w.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	nrc := p.nonResponsiveCount
	p.mu.Unlock()
	w.requestRetransmit(n.ReaderGUID, []seqnum.SeqNum{n.Seq}, nrc)
}

// recomputeDrop frees whatever the WHC now considers fully acked. This
// is the caller-side half of spec.md §9's resolved drop-seq question:
// the WHC computes the threshold internally; the writer just asks it
// to act on that threshold after any ack update.
func (w *Writer) recomputeDrop() {
	_, deferred := w.whc.RemoveAckedMessages()
	if deferred != nil {
		w.whc.FreeDeferredFreeList(deferred)
	}
}

// requestRetransmit schedules retransmission of seqs nacked by reader,
// applying the configured merge policy.
func (w *Writer) requestRetransmit(reader guid.GUID, seqs []seqnum.SeqNum, nonResponsiveCount int) {
	deadline := time.Now().Add(w.cfg.NackDelay)

	if w.cfg.Merge == MergeNever {
		w.sched.Schedule(deadline, func(time.Time) {
			w.retransmitTo(reader, seqs)
		})
		return
	}
	if w.cfg.Merge == MergeAdaptive && nonResponsiveCount > 0 {
		w.sched.Schedule(deadline, func(time.Time) {
			w.retransmitTo(reader, seqs)
		})
		return
	}

	w.pendingMu.Lock()
	for _, s := range seqs {
		if existing, ok := w.pending[s]; !ok || deadline.Before(existing) {
			w.pending[s] = deadline
		}
	}
	if w.mergeEvt == 0 {
		w.mergeEvt = w.sched.Schedule(deadline, w.flushMerged)
	}
	w.pendingMu.Unlock()
}

// flushMerged sends the union of merged retransmit requests once
// (spec.md §4.5's answer to thundering-herd ACKNACK storms).
func (w *Writer) flushMerged(time.Time) {
	w.pendingMu.Lock()
	var seqs []seqnum.SeqNum
	for s := range w.pending {
		seqs = append(seqs, s)
	}
	w.pending = make(map[seqnum.SeqNum]time.Time)
	w.mergeEvt = 0
	w.pendingMu.Unlock()

	w.broadcastRetransmit(seqs)
}

// blockSize returns the configured accelerate_rexmit_block_size, or
// total (no chunking) if unset.
func (w *Writer) blockSize(total int) int {
	if w.cfg.RexmitBlockSize <= 0 {
		return total
	}
	return w.cfg.RexmitBlockSize
}

func (w *Writer) broadcastRetransmit(seqs []seqnum.SeqNum) {
	n := w.blockSize(len(seqs))
	head, rest := splitSeqs(seqs, n)
	for _, s := range head {
		e, ok := w.whc.BorrowSample(s)
		if !ok {
			continue
		}
		w.sender.SendData(transport.Data{WriterGUID: w.guid, Seq: s, Payload: e.Serdata.Payload()})
		w.whc.ReturnSample(e, true)
		reliableMetrics.retransmitted.Add(context.Background(), 1)
	}
	if len(rest) > 0 {
		w.sched.Schedule(time.Now().Add(w.cfg.NackDelay), func(time.Time) {
			w.broadcastRetransmit(rest)
		})
	}
}

func (w *Writer) retransmitTo(reader guid.GUID, seqs []seqnum.SeqNum) {
	n := w.blockSize(len(seqs))
	head, rest := splitSeqs(seqs, n)
	for _, s := range head {
		e, ok := w.whc.BorrowSample(s)
		if !ok {
			continue
		}
		w.sender.SendData(transport.Data{WriterGUID: w.guid, ReaderGUID: reader, Seq: s, Payload: e.Serdata.Payload()})
		w.whc.ReturnSample(e, true)
		reliableMetrics.retransmitted.Add(context.Background(), 1)
	}
	if len(rest) > 0 {
		w.sched.Schedule(time.Now().Add(w.cfg.NackDelay), func(time.Time) {
			w.retransmitTo(reader, rest)
		})
	}
}

func splitSeqs(seqs []seqnum.SeqNum, n int) (head, rest []seqnum.SeqNum) {
	if n <= 0 || n >= len(seqs) {
		return seqs, nil
	}
	return seqs[:n], seqs[n:]
}
