package participant

import (
	"context"
	"sync"
	"time"

	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/match"
	"github.com/rtpsmesh/ddscore/internal/qos"
	"github.com/rtpsmesh/ddscore/internal/reliable"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
	"github.com/rtpsmesh/ddscore/internal/transport"
	"github.com/rtpsmesh/ddscore/internal/whc"
)

// Writer is a locally created data writer: a WHC plus, for a RELIABLE
// writer, the reliable.Writer orchestrating heartbeats/acknacks/
// retransmits against its matched readers.
type Writer struct {
	p  *DomainParticipant
	ep *match.Endpoint

	whc *whc.Keyed
	tk  *tkmap.Map

	// mu serializes insert() calls: seq assignment must match insertion
	// order into the WHC, which panics on a non-monotonic seq, so two
	// concurrent writes can never be allowed to race each other past it.
	mu  sync.Mutex
	seq seqnum.SeqNum

	rw *reliable.Writer // nil for a best-effort writer
}

// CreateWriter registers a new writer for topic with the given QoS,
// wires its WHC watermarks from the participant's configuration, and
// announces it to the matcher.
func (p *DomainParticipant) CreateWriter(parent *entity.Entity, g guid.GUID, topic string, q qos.Qos) *Writer {
	keepLast := q.History.Kind == qos.KeepLast
	cache := whc.NewKeyed(keepLast, q.History.Depth)
	cache.SetWatermarks(q.Reliability == qos.Reliable,
		p.cfg.WHCLowWaterMark, p.cfg.WHCHighWaterMark, p.cfg.WHCInitHighWaterMark,
		p.cfg.WHCMaxBlockingTime)

	e := p.registry.Create(parent, g, guid.KindWriter)
	w := &Writer{
		p:   p,
		ep:  &match.Endpoint{GUID: g, Entity: e, TopicName: topic, Qos: q},
		whc: cache,
		tk:  tkmap.New(),
	}
	if q.Reliability == qos.Reliable {
		w.rw = reliable.NewWriter(g, cache, p.loopback, p.sched, p.reliableConfig(), w)
	}

	p.mu.Lock()
	p.writers[g] = w
	p.mu.Unlock()

	p.matcher.AddWriter(context.Background(), w.ep)
	return w
}

// Write publishes one sample for key, blocking per the WHC's configured
// watermarks if the writer is RELIABLE and its cache is backed up.
func (w *Writer) Write(ctx context.Context, key serdata.KeyHash, payload []byte) error {
	return w.insert(ctx, serdata.KindData, key, 0, payload)
}

// Dispose marks key's instance NOT_ALIVE_DISPOSED for every matched
// reader.
func (w *Writer) Dispose(ctx context.Context, key serdata.KeyHash) error {
	return w.insert(ctx, serdata.KindKey, key, serdata.StatusDispose, nil)
}

// Unregister tells matched readers this writer no longer writes key's
// instance.
func (w *Writer) Unregister(ctx context.Context, key serdata.KeyHash) error {
	return w.insert(ctx, serdata.KindKey, key, serdata.StatusUnregister, nil)
}

func (w *Writer) insert(ctx context.Context, kind serdata.Kind, key serdata.KeyHash, si serdata.StatusInfo, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	seq := w.seq + 1
	inst := w.tk.Intern(w.ep.TopicName, key)

	wire := encodeEnvelope(envelope{
		key:        key,
		kind:       kind,
		statusInfo: si,
		sourceTS:   now,
		writerIID:  writerIID(w.ep.GUID),
		strength:   w.ep.Qos.OwnershipStrength.Value,
	}, payload)
	sd := serdata.New(kind, key, now, si, wire)

	if err := w.whc.Insert(ctx, seq, time.Time{}, sd, inst); err != nil {
		w.tk.Release(inst)
		return err
	}
	w.seq = seq
	w.p.loopback.SendData(transport.Data{WriterGUID: w.ep.GUID, Seq: seq, Payload: wire})
	return nil
}

// OnNonResponsive implements reliable.WriterListener; no status exists
// for a reader merely missing heartbeats, only for giving up on it
// entirely (OnGiveUp).
func (w *Writer) OnNonResponsive(reader guid.GUID) {}

// OnGiveUp implements reliable.WriterListener: a reader that never
// catches up is unmatched the same as if it had been explicitly
// deleted.
func (w *Writer) OnGiveUp(reader guid.GUID) {
	w.p.matcher.RemoveReader(context.Background(), reader)
}
