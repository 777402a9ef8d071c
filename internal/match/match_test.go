package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/qos"
)

func newEndpoint(t *testing.T, r *entity.Registry, kind guid.EntityKind, topic string, q qos.Qos) *Endpoint {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	g := prefix.Entity(guid.NewEntityID(1, kind, guid.SourceUser))
	var e *entity.Entity
	if r != nil {
		e = r.Create(nil, g, kind)
	}
	return &Endpoint{GUID: g, Entity: e, TopicName: topic, Qos: q}
}

func TestCompatibleEndpointsMatchAndNotifyListeners(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	var matched [][2]guid.GUID
	m := New(reg, Hooks{OnMatch: func(w, r *Endpoint) {
		matched = append(matched, [2]guid.GUID{w.GUID, r.GUID})
	}})

	q := qos.Default("T", "Ty")
	w := newEndpoint(t, reg, guid.KindWriter, "T", q)
	r := newEndpoint(t, reg, guid.KindReader, "T", q)

	m.AddWriter(context.Background(), w)
	m.AddReader(context.Background(), r)

	require.Len(t, matched, 1)
	require.Equal(t, w.GUID, matched[0][0])
	require.Equal(t, r.GUID, matched[0][1])
	require.Equal(t, int32(1), w.Entity.StatusValue(ddsevents.StatusPublicationMatched))
	require.Equal(t, int32(1), r.Entity.StatusValue(ddsevents.StatusSubscriptionMatched))
}

func TestIncompatibleQosReportsBothSidesAndDoesNotMatch(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	called := false
	m := New(reg, Hooks{OnMatch: func(*Endpoint, *Endpoint) { called = true }})

	wq := qos.Default("T", "Ty")
	wq.Reliability = qos.BestEffort
	rq := qos.Default("T", "Ty")
	rq.Reliability = qos.Reliable

	w := newEndpoint(t, reg, guid.KindWriter, "T", wq)
	r := newEndpoint(t, reg, guid.KindReader, "T", rq)

	m.AddWriter(context.Background(), w)
	m.AddReader(context.Background(), r)

	require.False(t, called)
	require.Equal(t, int32(1), w.Entity.StatusValue(ddsevents.StatusOfferedIncompatible))
	require.Equal(t, int32(1), r.Entity.StatusValue(ddsevents.StatusRequestedIncompatible))
}

func TestDifferentTopicsNeverMatch(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	called := false
	m := New(reg, Hooks{OnMatch: func(*Endpoint, *Endpoint) { called = true }})

	w := newEndpoint(t, reg, guid.KindWriter, "A", qos.Default("A", "Ty"))
	r := newEndpoint(t, reg, guid.KindReader, "B", qos.Default("B", "Ty"))

	m.AddWriter(context.Background(), w)
	m.AddReader(context.Background(), r)
	require.False(t, called)
}

func TestRemoveWriterTearsDownMatch(t *testing.T) {
	m := New(nil, Hooks{})
	var unmatched bool
	m.hooks.OnUnmatch = func(w, r guid.GUID) { unmatched = true }

	q := qos.Default("T", "Ty")
	w := newEndpoint(t, nil, guid.KindWriter, "T", q)
	r := newEndpoint(t, nil, guid.KindReader, "T", q)

	m.AddWriter(context.Background(), w)
	m.AddReader(context.Background(), r)
	m.RemoveWriter(context.Background(), w.GUID)

	require.True(t, unmatched)
}

func TestRemoveWriterReportsMatchedCountDecrement(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	m := New(reg, Hooks{})

	q := qos.Default("T", "Ty")
	w := newEndpoint(t, reg, guid.KindWriter, "T", q)
	r := newEndpoint(t, reg, guid.KindReader, "T", q)

	m.AddWriter(context.Background(), w)
	m.AddReader(context.Background(), r)
	require.Equal(t, int32(1), w.Entity.StatusValue(ddsevents.StatusPublicationMatched))
	require.Equal(t, int32(1), r.Entity.StatusValue(ddsevents.StatusSubscriptionMatched))

	m.RemoveWriter(context.Background(), w.GUID)

	require.Equal(t, int32(0), w.Entity.StatusValue(ddsevents.StatusPublicationMatched))
	require.Equal(t, int32(0), r.Entity.StatusValue(ddsevents.StatusSubscriptionMatched))
}

func TestUpdateWriterTearsDownOnIncompatibleQosChange(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	m := New(reg, Hooks{})

	q := qos.Default("T", "Ty")
	q.Reliability = qos.Reliable
	w := newEndpoint(t, reg, guid.KindWriter, "T", q)
	r := newEndpoint(t, reg, guid.KindReader, "T", q)

	m.AddWriter(context.Background(), w)
	m.AddReader(context.Background(), r)
	require.Equal(t, int32(1), w.Entity.StatusValue(ddsevents.StatusPublicationMatched))

	w.Qos.Reliability = qos.BestEffort
	m.UpdateWriter(context.Background(), w.GUID, w.Qos)

	require.Equal(t, int32(0), w.Entity.StatusValue(ddsevents.StatusPublicationMatched))
	require.Equal(t, int32(0), r.Entity.StatusValue(ddsevents.StatusSubscriptionMatched))
}

func TestSweepExpiresStaleLeaseAndReportsLivelinessLost(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	m := New(reg, Hooks{})

	q := qos.Default("T", "Ty")
	q.Liveliness.LeaseDuration = 10 * time.Millisecond
	w := newEndpoint(t, reg, guid.KindWriter, "T", q)

	m.AddWriter(context.Background(), w)
	expired := m.Sweep(context.Background(), time.Now().Add(time.Second))

	require.Contains(t, expired, w.GUID)
	require.Equal(t, int32(1), w.Entity.StatusValue(ddsevents.StatusLivelinessLost))
}

func TestSweepIgnoresInfiniteLease(t *testing.T) {
	m := New(nil, Hooks{})
	w := newEndpoint(t, nil, guid.KindWriter, "T", qos.Default("T", "Ty"))
	m.AddWriter(context.Background(), w)
	expired := m.Sweep(context.Background(), time.Now().Add(24*time.Hour))
	require.Empty(t, expired)
}
