package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/ddscore/internal/ddsevents"
	"github.com/rtpsmesh/ddscore/internal/guid"
)

func newTestEntity(t *testing.T, r *Registry, parent *Entity, kind guid.EntityKind) *Entity {
	t.Helper()
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	g := prefix.Entity(guid.NewEntityID(1, kind, guid.SourceUser))
	return r.Create(parent, g, kind)
}

func TestPinFailsAfterClose(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	e := newTestEntity(t, r, nil, guid.KindParticipant)

	_, ok := r.Pin(e.HandleID())
	require.True(t, ok)
	e.Unpin()

	r.Close(e)
	_, ok = r.Pin(e.HandleID())
	require.False(t, ok)
}

func TestDeleteWaitsForPinCountToDrain(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	e := newTestEntity(t, r, nil, guid.KindParticipant)

	pinned, ok := r.Pin(e.HandleID())
	require.True(t, ok)

	deleted := make(chan struct{})
	go func() {
		r.Delete(e)
		close(deleted)
	}()

	select {
	case <-deleted:
		t.Fatal("Delete returned before pin was released")
	case <-time.After(20 * time.Millisecond):
	}

	pinned.Unpin()

	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("Delete did not return after Unpin")
	}
}

func TestDeleteRemovesChildrenDepthFirstThenParent(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	parent := newTestEntity(t, r, nil, guid.KindParticipant)
	child := newTestEntity(t, r, parent, guid.KindTopic)
	grandchild := newTestEntity(t, r, child, guid.KindWriter)

	r.Delete(parent)

	_, okP := r.Pin(parent.HandleID())
	_, okC := r.Pin(child.HandleID())
	_, okG := r.Pin(grandchild.HandleID())
	require.False(t, okP)
	require.False(t, okC)
	require.False(t, okG)
}

func TestRaiseStatusInvokesListenerAndResetsMask(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	e := newTestEntity(t, r, nil, guid.KindWriter)

	var gotKind ddsevents.StatusKind
	e.SetListener(&ddsevents.FuncHandler{
		HandlerID: "l",
		Kinds:     []ddsevents.StatusKind{ddsevents.StatusPublicationMatched},
		HandleFunc: func(_ context.Context, ev *ddsevents.Event) error {
			gotKind = ev.Kind
			return nil
		},
	}, []ddsevents.StatusKind{ddsevents.StatusPublicationMatched})

	r.RaiseStatus(context.Background(), e, ddsevents.StatusPublicationMatched, 1, "")
	require.Equal(t, ddsevents.StatusPublicationMatched, gotKind)
	require.Equal(t, int32(0), e.StatusValue(ddsevents.StatusPublicationMatched))
}

func TestRaiseStatusWithoutResetMaskAccumulates(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	e := newTestEntity(t, r, nil, guid.KindWriter)

	r.RaiseStatus(context.Background(), e, ddsevents.StatusLivelinessLost, 1, "")
	r.RaiseStatus(context.Background(), e, ddsevents.StatusLivelinessLost, 1, "")
	require.Equal(t, int32(2), e.StatusValue(ddsevents.StatusLivelinessLost))
}

func TestAttachedWaitsetWakesOnDelete(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	e := newTestEntity(t, r, nil, guid.KindReader)

	woke := make(chan struct{}, 1)
	e.AttachWaitset(1, func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})

	r.Delete(e)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waitset was not woken on delete")
	}
}

func TestDetachWaitsetStopsFutureWakes(t *testing.T) {
	r := NewRegistry(ddsevents.New())
	e := newTestEntity(t, r, nil, guid.KindReader)

	calls := 0
	e.AttachWaitset(1, func() { calls++ })
	e.DetachWaitset(1)

	r.RaiseStatus(context.Background(), e, ddsevents.StatusDataAvailable, 1, "")
	require.Equal(t, 0, calls)
}
