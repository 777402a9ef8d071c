// Package participant assembles the entity registry, endpoint matcher,
// scheduler, and in-process transport into a single domain participant:
// the thing cmd/ddsd actually runs. Everything below it (whc, rhc,
// reliable, match) stays transport- and discovery-agnostic; this
// package is where those pieces are wired together per discovered
// writer/reader, the way the control API will eventually drive it.
package participant

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rtpsmesh/ddscore/internal/config"
	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/match"
	"github.com/rtpsmesh/ddscore/internal/qos"
	"github.com/rtpsmesh/ddscore/internal/reliable"
	"github.com/rtpsmesh/ddscore/internal/sched"
	"github.com/rtpsmesh/ddscore/internal/transport"
)

// livelinessSweepInterval is how often the matcher's lease expiry sweep
// runs; independent of any one endpoint's configured lease duration.
const livelinessSweepInterval = time.Second

// DomainParticipant owns every locally created writer and reader and
// the matcher/transport plumbing between them.
type DomainParticipant struct {
	registry *entity.Registry
	matcher  *match.Matcher
	sched    *sched.Scheduler
	loopback *transport.Loopback
	cfg      config.Settings

	mu      sync.Mutex
	writers map[guid.GUID]*Writer
	readers map[guid.GUID]*Reader
}

// New creates a DomainParticipant sharing registry/sc with the rest of
// the daemon, and a private in-process Loopback transport.
func New(registry *entity.Registry, sc *sched.Scheduler, cfg config.Settings) *DomainParticipant {
	p := &DomainParticipant{
		registry: registry,
		sched:    sc,
		cfg:      cfg,
		loopback: &transport.Loopback{},
		writers:  make(map[guid.GUID]*Writer),
		readers:  make(map[guid.GUID]*Reader),
	}
	p.matcher = match.New(registry, match.Hooks{OnMatch: p.onMatch, OnUnmatch: p.onUnmatch})
	p.loopback.OnData = p.routeData
	p.loopback.OnHeartbeat = p.routeHeartbeat
	p.loopback.OnAckNack = p.routeAckNack
	p.loopback.OnNackFrag = p.routeNackFrag

	p.startLivelinessSweep()
	return p
}

// Matcher exposes the underlying matcher for discovery code (built-in
// topic readers, eventually a remote-discovery bridge) that needs to
// AddWriter/AddReader endpoints this participant did not itself create.
func (p *DomainParticipant) Matcher() *match.Matcher { return p.matcher }

func (p *DomainParticipant) startLivelinessSweep() {
	var tick func(time.Time)
	tick = func(now time.Time) {
		p.matcher.Sweep(context.Background(), now)
		p.sched.After(livelinessSweepInterval, tick)
	}
	p.sched.After(livelinessSweepInterval, tick)
}

func (p *DomainParticipant) reliableConfig() reliable.Config {
	cfg := reliable.DefaultConfig()
	if p.cfg.HeartbeatIntervalMin > 0 {
		cfg.HeartbeatIntervalBase = p.cfg.HeartbeatIntervalMin
		cfg.HeartbeatIntervalMin = p.cfg.HeartbeatIntervalMin
	}
	if p.cfg.HeartbeatIntervalMax > 0 {
		cfg.HeartbeatIntervalMax = p.cfg.HeartbeatIntervalMax
	}
	if p.cfg.NackDelay > 0 {
		cfg.NackDelay = p.cfg.NackDelay
	}
	if p.cfg.AckNackDelay > 0 {
		cfg.AckNackDelay = p.cfg.AckNackDelay
	}
	if p.cfg.ResponsivenessTimeout > 0 {
		cfg.ResponsivenessTimeout = p.cfg.ResponsivenessTimeout
	}
	if p.cfg.GiveUpAfter > 0 {
		cfg.GiveUpAfter = p.cfg.GiveUpAfter
	}
	if p.cfg.AccelerateRexmitBlockSize > 0 {
		cfg.RexmitBlockSize = p.cfg.AccelerateRexmitBlockSize
	}
	switch p.cfg.RetransmitMerging {
	case "never":
		cfg.Merge = reliable.MergeNever
	case "always":
		cfg.Merge = reliable.MergeAlways
	case "adaptive", "":
		cfg.Merge = reliable.MergeAdaptive
	}
	return cfg
}

// onMatch wires a newly matched writer/reader pair: for a reliable
// match, both sides get a reliable.Writer/Reader proxy; otherwise the
// writer simply learns the reader acks everything it sends (best-effort
// acks are cosmetic bookkeeping for the WHC, per whc.UpdateReaderAck's
// doc comment). A late-joining TRANSIENT_LOCAL reader is marked on the
// writer's WHC either way, and replayed directly when there is no
// heartbeat/acknack loop to do that for it.
func (p *DomainParticipant) onMatch(wEp, rEp *match.Endpoint) {
	p.mu.Lock()
	w, wok := p.writers[wEp.GUID]
	r, rok := p.readers[rEp.GUID]
	p.mu.Unlock()
	if !wok || !rok {
		return
	}

	r.mu.Lock()
	r.matchedWriters[wEp.GUID] = true
	r.mu.Unlock()

	transientLocal := rEp.Qos.Durability == qos.TransientLocal
	if transientLocal {
		w.whc.MarkTransientLocal(rEp.GUID)
	}

	if w.rw != nil && r.rr != nil {
		w.rw.MatchReader(rEp.GUID)
		r.rr.MatchWriter(wEp.GUID)
		return
	}

	w.whc.UpdateReaderAck(rEp.GUID, 0, false)
	if !transientLocal {
		return
	}

	it := w.whc.IterInit()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		p.loopback.SendData(transport.Data{
			WriterGUID: wEp.GUID,
			ReaderGUID: rEp.GUID,
			Seq:        e.Seq,
			Payload:    e.Serdata.Payload(),
		})
	}
}

// onUnmatch tears down whichever side has proxy state for the other;
// it is the mirror of onMatch and runs even if one of the two endpoints
// has already been locally deleted.
func (p *DomainParticipant) onUnmatch(writer, reader guid.GUID) {
	p.mu.Lock()
	w, wok := p.writers[writer]
	r, rok := p.readers[reader]
	p.mu.Unlock()

	if wok {
		if w.rw != nil {
			w.rw.UnmatchReader(reader)
		} else {
			w.whc.RemoveReader(reader)
		}
	}
	if rok {
		if r.rr != nil {
			r.rr.UnmatchWriter(writer)
		}
		r.mu.Lock()
		delete(r.matchedWriters, writer)
		r.mu.Unlock()
	}
}

func (p *DomainParticipant) routeData(d transport.Data) {
	p.mu.Lock()
	readers := make([]*Reader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()

	unicast := d.ReaderGUID != (guid.GUID{})
	for _, r := range readers {
		if unicast && d.ReaderGUID != r.ep.GUID {
			continue
		}
		r.handleData(d)
	}
}

func (p *DomainParticipant) routeHeartbeat(hb transport.Heartbeat) {
	p.mu.Lock()
	readers := make([]*Reader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	p.mu.Unlock()
	for _, r := range readers {
		if r.rr != nil {
			r.rr.OnHeartbeat(hb)
		}
	}
}

func (p *DomainParticipant) routeAckNack(a transport.AckNack) {
	p.mu.Lock()
	writers := make([]*Writer, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	p.mu.Unlock()
	for _, w := range writers {
		if w.rw != nil {
			w.rw.OnAckNack(a)
		}
	}
}

func (p *DomainParticipant) routeNackFrag(n transport.NackFrag) {
	p.mu.Lock()
	writers := make([]*Writer, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	p.mu.Unlock()
	for _, w := range writers {
		if w.rw != nil {
			w.rw.OnNackFrag(n)
		}
	}
}

// DeleteWriter tears down a locally created writer: unmatches it from
// every reader, then closes and deletes its entity.
func (p *DomainParticipant) DeleteWriter(w *Writer) {
	p.matcher.RemoveWriter(context.Background(), w.ep.GUID)
	p.registry.Delete(w.ep.Entity)
	p.mu.Lock()
	delete(p.writers, w.ep.GUID)
	p.mu.Unlock()
}

// DeleteReader is DeleteWriter's mirror.
func (p *DomainParticipant) DeleteReader(r *Reader) {
	p.matcher.RemoveReader(context.Background(), r.ep.GUID)
	p.registry.Delete(r.ep.Entity)
	p.mu.Lock()
	delete(p.readers, r.ep.GUID)
	p.mu.Unlock()
}

// writerIID derives a stable, process-local 64-bit id from a writer's
// GUID for rhc.WriterInfo.WriterIID: readers only ever need this to
// distinguish one matched writer from another, never to recover the
// GUID, so a one-way hash is enough.
func writerIID(g guid.GUID) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(g.Prefix[:])
	_, _ = h.Write(g.EntityID[:])
	return h.Sum64()
}
