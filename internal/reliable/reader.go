package reliable

import (
	"sync"
	"time"

	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/sched"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/transport"
)

// InSync is the reader-side replay state of spec.md §3/§4.5:
// OUT_OF_SYNC -> TL_CATCHUP -> SYNC as historical data replay finishes.
type InSync int

const (
	OutOfSync InSync = iota
	TLCatchup
	Sync
)

// DeliverFunc receives one in-order sample from a matched writer.
type DeliverFunc func(writer guid.GUID, seq seqnum.SeqNum, payload []byte)

// ReaderProxy is the reader-side state for one matched writer.
type ReaderProxy struct {
	mu sync.Mutex

	r      *Reader
	writer guid.GUID

	inSync      InSync
	reorder     *seqnum.Reorder
	endOfTLSeq  seqnum.SeqNum
	prevHBCount int64
	ackNackSeq  int64

	writerAlive bool
	aliveVClock uint64
}

func newReaderProxy(r *Reader, writer guid.GUID) *ReaderProxy {
	return &ReaderProxy{
		r:           r,
		writer:      writer,
		inSync:      OutOfSync,
		reorder:     seqnum.NewReorder(0),
		endOfTLSeq:  seqnum.Sentinel,
		writerAlive: true,
	}
}

func (p *ReaderProxy) onData(d transport.Data) {
	p.mu.Lock()
	startSeq := p.reorder.Delivered() + 1
	delivered := p.reorder.Receive(d.Seq, d.Payload)
	afterSeq := p.reorder.Delivered()
	if p.inSync == TLCatchup && !p.endOfTLSeq.None() && afterSeq >= p.endOfTLSeq {
		p.inSync = Sync
	}
	writer := p.writer
	p.mu.Unlock()

	for i, payload := range delivered {
		p.r.deliver(writer, startSeq+seqnum.SeqNum(i), payload.([]byte))
	}
}

func (p *ReaderProxy) onHeartbeat(hb transport.Heartbeat) {
	p.mu.Lock()
	if hb.Count <= p.prevHBCount {
		p.mu.Unlock()
		return
	}
	p.prevHBCount = hb.Count
	if p.inSync == OutOfSync {
		p.inSync = TLCatchup
		p.endOfTLSeq = hb.Last
	}
	if p.inSync == TLCatchup && p.reorder.Delivered() >= p.endOfTLSeq {
		p.inSync = Sync
	}
	missing := p.reorder.Missing(hb.Last)
	base := p.reorder.Delivered() + 1
	final := hb.Final
	p.mu.Unlock()

	p.r.sched.After(p.r.cfg.AckNackDelay, func(time.Time) {
		p.sendAckNack(base, hb.Last, missing, final)
	})
}

func (p *ReaderProxy) sendAckNack(base, last seqnum.SeqNum, missing []seqnum.SeqNum, heartbeatFinal bool) {
	p.mu.Lock()
	p.ackNackSeq++
	count := p.ackNackSeq
	writer := p.writer
	p.mu.Unlock()

	var bm *seqnum.Bitmap
	if last >= base {
		numBits := int(last-base) + 1
		if numBits > seqnum.MaxBits {
			numBits = seqnum.MaxBits
		}
		if numBits > 0 {
			bm, _ = seqnum.NewBitmap(base, numBits)
			for _, s := range missing {
				if s >= base {
					bm.Set(s)
				}
			}
		}
	}

	p.r.sender.SendAckNack(transport.AckNack{
		ReaderGUID: p.r.guid,
		WriterGUID: writer,
		Base:       base,
		Bitmap:     bm,
		Count:      count,
		Final:      !heartbeatFinal,
	})
}

// Reader is the reader-side orchestrator: one per local reader,
// tracking a ReaderProxy per matched writer.
type Reader struct {
	mu      sync.Mutex
	guid    guid.GUID
	sender  transport.Sender
	sched   *sched.Scheduler
	cfg     Config
	onData  DeliverFunc
	proxies map[guid.GUID]*ReaderProxy
}

// NewReader creates a Reader; onData is invoked once per delivered
// sample, in writer-seqno order per matched writer.
func NewReader(g guid.GUID, sender transport.Sender, sc *sched.Scheduler, cfg Config, onData DeliverFunc) *Reader {
	return &Reader{
		guid:    g,
		sender:  sender,
		sched:   sc,
		cfg:     cfg,
		onData:  onData,
		proxies: make(map[guid.GUID]*ReaderProxy),
	}
}

// MatchWriter creates a proxy for a newly matched writer.
func (r *Reader) MatchWriter(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proxies[writer]; ok {
		return
	}
	r.proxies[writer] = newReaderProxy(r, writer)
}

// UnmatchWriter tears down a proxy.
func (r *Reader) UnmatchWriter(writer guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, writer)
}

// OnData routes inbound DATA to its writer's proxy.
func (r *Reader) OnData(d transport.Data) {
	r.mu.Lock()
	p, ok := r.proxies[d.WriterGUID]
	r.mu.Unlock()
	if ok {
		p.onData(d)
	}
}

// OnHeartbeat routes an inbound HEARTBEAT to its writer's proxy.
func (r *Reader) OnHeartbeat(hb transport.Heartbeat) {
	r.mu.Lock()
	p, ok := r.proxies[hb.WriterGUID]
	r.mu.Unlock()
	if ok {
		p.onHeartbeat(hb)
	}
}

// InSync reports the replay state for a matched writer, for tests and
// diagnostics.
func (r *Reader) InSync(writer guid.GUID) (InSync, bool) {
	r.mu.Lock()
	p, ok := r.proxies[writer]
	r.mu.Unlock()
	if !ok {
		return OutOfSync, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inSync, true
}

func (r *Reader) deliver(writer guid.GUID, seq seqnum.SeqNum, payload []byte) {
	if r.onData != nil {
		r.onData(writer, seq, payload)
	}
}
