package waitset

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/entity"
	"github.com/rtpsmesh/ddscore/internal/guid"
)

func newTestEntity(t *testing.T, r *entity.Registry) *entity.Entity {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	g := prefix.Entity(guid.NewEntityID(1, guid.KindReader, guid.SourceUser))
	return r.Create(nil, g, guid.KindReader)
}

func TestWaitReturnsImmediatelyWhenAlreadyTriggered(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	e := newTestEntity(t, reg)

	w := New()
	w.Attach(e, "cookie-1", func() bool { return true })

	cookies, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"cookie-1"}, cookies)
}

func TestWaitTimesOutWhenNeverTriggered(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	e := newTestEntity(t, reg)

	w := New()
	w.Attach(e, "cookie-1", func() bool { return false })

	_, err := w.Wait(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWaitWakesWhenEntityStatusChanges(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	e := newTestEntity(t, reg)

	var ready int32
	w := New()
	w.Attach(e, "cookie-1", func() bool { return atomic.LoadInt32(&ready) == 1 })

	done := make(chan struct{})
	var cookies []interface{}
	go func() {
		cookies, _ = w.Wait(context.Background(), time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	atomic.StoreInt32(&ready, 1)
	reg.RaiseStatus(context.Background(), e, ddsevents.StatusDataAvailable, 1, "")

	select {
	case <-done:
		require.Equal(t, []interface{}{"cookie-1"}, cookies)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake on status change")
	}
}

func TestDetachStopsFurtherTriggering(t *testing.T) {
	reg := entity.NewRegistry(ddsevents.New())
	e := newTestEntity(t, reg)

	w := New()
	w.Attach(e, "cookie-1", func() bool { return true })
	w.Detach(e)

	_, err := w.Wait(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

type fakeRHC struct{ has bool }

func (f *fakeRHC) HasDataAvailable() bool { return f.has }

func TestDataOnReadersTriggersWhenAnyReaderHasData(t *testing.T) {
	d := NewDataOnReaders()
	r1 := &fakeRHC{has: false}
	r2 := &fakeRHC{has: false}
	d.AddReader(r1)
	d.AddReader(r2)
	require.False(t, d.Triggered())

	r2.has = true
	require.True(t, d.Triggered())
}

func TestDataOnReadersRemoveReaderUnmaterializes(t *testing.T) {
	d := NewDataOnReaders()
	r1 := &fakeRHC{has: true}
	d.AddReader(r1)
	require.True(t, d.Triggered())

	d.RemoveReader(r1)
	require.False(t, d.Triggered())
}
