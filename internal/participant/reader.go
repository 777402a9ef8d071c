package participant

import (
	"context"
	"sync"

	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/match"
	"github.com/rtpsmesh/ddscore/internal/qos"
	"github.com/rtpsmesh/ddscore/internal/reliable"
	"github.com/rtpsmesh/ddscore/internal/rhc"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
	"github.com/rtpsmesh/ddscore/internal/transport"
)

// Reader is a locally created data reader: an RHC plus, for a RELIABLE
// reader, the reliable.Reader orchestrating per-writer reorder/replay.
type Reader struct {
	p  *DomainParticipant
	ep *match.Endpoint

	rhc *rhc.Keyed
	tk  *tkmap.Map

	rr *reliable.Reader // nil for a best-effort reader

	// matchedWriters filters a best-effort reader's inbound Data: it has
	// no reliable.ReaderProxy of its own to do that filtering for it.
	mu             sync.Mutex
	matchedWriters map[guid.GUID]bool

	onDataAvailable func()
}

// CreateReader registers a new reader for topic with the given QoS and
// announces it to the matcher. Its RHC's sample-lost listener is wired
// to raise SAMPLE_LOST on the reader's entity, closing the loop on
// rhc.Keyed.SetSampleLostListener.
func (p *DomainParticipant) CreateReader(parent *entity.Entity, g guid.GUID, topic string, q qos.Qos) *Reader {
	cache := rhc.NewKeyed(q)

	e := p.registry.Create(parent, g, guid.KindReader)
	cache.SetSampleLostListener(func(tkmap.InstanceID, uint64) {
		p.registry.RaiseStatus(context.Background(), e, ddsevents.StatusSampleLost, 1, "")
	})

	r := &Reader{
		p:              p,
		ep:             &match.Endpoint{GUID: g, Entity: e, TopicName: topic, Qos: q},
		rhc:            cache,
		tk:             tkmap.New(),
		matchedWriters: make(map[guid.GUID]bool),
	}
	if q.Reliability == qos.Reliable {
		r.rr = reliable.NewReader(g, p.loopback, p.sched, p.reliableConfig(), r.onReliableDeliver)
	}

	p.mu.Lock()
	p.readers[g] = r
	p.mu.Unlock()

	p.matcher.AddReader(context.Background(), r.ep)
	return r
}

// SetDataAvailableListener installs fn to be called after every sample
// this reader accepts into its RHC.
func (r *Reader) SetDataAvailableListener(fn func()) {
	r.mu.Lock()
	r.onDataAvailable = fn
	r.mu.Unlock()
}

// Take drains matching samples from the RHC (spec.md §4.4's take()).
func (r *Reader) Take(spec rhc.ReadSpec) []rhc.Sample {
	return r.rhc.Take(spec)
}

func (r *Reader) handleData(d transport.Data) {
	if r.rr != nil {
		r.rr.OnData(d)
		return
	}
	r.mu.Lock()
	matched := r.matchedWriters[d.WriterGUID]
	r.mu.Unlock()
	if !matched {
		return
	}
	r.deliver(d.WriterGUID, d.Seq, d.Payload)
}

func (r *Reader) onReliableDeliver(writer guid.GUID, seq seqnum.SeqNum, payload []byte) {
	r.deliver(writer, seq, payload)
}

func (r *Reader) deliver(writer guid.GUID, seq seqnum.SeqNum, wire []byte) {
	hdr, body := decodeEnvelope(wire)
	inst := r.tk.Intern(r.ep.TopicName, hdr.key)
	sd := serdata.New(hdr.kind, hdr.key, hdr.sourceTS, hdr.statusInfo, body)

	wi := rhc.WriterInfo{WriterIID: hdr.writerIID, Strength: hdr.strength}
	accepted := r.rhc.Store(wi, sd, inst)

	r.mu.Lock()
	cb := r.onDataAvailable
	r.mu.Unlock()
	if accepted && cb != nil {
		cb()
	}
}
