package whc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/retcode"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
)

func sample(payload string) *serdata.Serdata {
	return serdata.New(serdata.KindData, serdata.KeyHash{}, time.Now(), 0, []byte(payload))
}

func seqOf(i int) seqnum.SeqNum { return seqnum.SeqNum(i) }

func readerGUID(n byte) guid.GUID {
	p := guid.Prefix{}
	p[0] = n
	return p.Entity(guid.NewEntityID(uint32(n), guid.KindReader, guid.SourceUser))
}

func TestKeyedInsertMonotonicPanics(t *testing.T) {
	k := NewKeyed(false, 0)
	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.Panics(t, func() {
		_ = k.Insert(context.Background(), 1, time.Time{}, sample("b"), 1)
	})
}

func TestKeyedNoReliableReadersDropsImmediately(t *testing.T) {
	k := NewKeyed(false, 0)
	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.NoError(t, k.Insert(context.Background(), 2, time.Time{}, sample("b"), 1))

	count, deferred := k.RemoveAckedMessages()
	require.Equal(t, 2, count)
	k.FreeDeferredFreeList(deferred)

	st := k.GetState()
	require.True(t, st.Empty())
}

func TestKeyedReliableReaderHoldsBackDrop(t *testing.T) {
	// spec.md §8 scenario 1: reliable writer, no loss -> all samples
	// retained until the reader acks.
	k := NewKeyed(false, 0)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.NoError(t, k.Insert(context.Background(), 2, time.Time{}, sample("b"), 1))

	count, _ := k.RemoveAckedMessages()
	require.Equal(t, 0, count)

	k.UpdateReaderAck(r, 1, true)
	count, deferred := k.RemoveAckedMessages()
	require.Equal(t, 1, count)
	require.Equal(t, int64(1), int64(len(deferred)))
	k.FreeDeferredFreeList(deferred)

	st := k.GetState()
	require.False(t, st.Empty())
	require.Equal(t, seqOf(2), st.MaxSeq)

	k.UpdateReaderAck(r, 2, true)
	count, deferred = k.RemoveAckedMessages()
	require.Equal(t, 1, count)
	k.FreeDeferredFreeList(deferred)
	require.True(t, k.GetState().Empty())
}

func TestKeyedKeepLastEvictsOldestPerInstance(t *testing.T) {
	// spec.md §8 scenario 3: KEEP_LAST(3), 10 writes, late transient-local
	// joiner only sees the most recent 3.
	k := NewKeyed(true, 3)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)

	for i := 1; i <= 10; i++ {
		require.NoError(t, k.Insert(context.Background(), seqOf(i), time.Time{}, sample("x"), 1))
	}

	var seen []int
	it := k.IterInit()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		seen = append(seen, int(e.Seq))
	}
	require.Equal(t, []int{8, 9, 10}, seen)
}

func TestKeyedKeepLastIsPerInstance(t *testing.T) {
	k := NewKeyed(true, 1)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.NoError(t, k.Insert(context.Background(), 2, time.Time{}, sample("b"), 2))
	require.NoError(t, k.Insert(context.Background(), 3, time.Time{}, sample("c"), 1))

	_, ok := k.BorrowSample(1)
	require.False(t, ok) // evicted: instance 1 already had one retained (seq 3)
	_, ok = k.BorrowSample(2)
	require.True(t, ok)
	_, ok = k.BorrowSample(3)
	require.True(t, ok)
}

func TestKeyedBorrowSampleKey(t *testing.T) {
	k := NewKeyed(false, 0)
	a := serdata.New(serdata.KindData, serdata.KeyHash{1}, time.Now(), 0, []byte("a"))
	b := serdata.New(serdata.KindData, serdata.KeyHash{2}, time.Now(), 0, []byte("b"))
	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, a, 1))
	require.NoError(t, k.Insert(context.Background(), 2, time.Time{}, b, 2))

	e, ok := k.BorrowSampleKey(serdata.KeyHash{2})
	require.True(t, ok)
	require.Equal(t, seqOf(2), e.Seq)
}

func TestKeyedRemoveReaderUnblocksDrop(t *testing.T) {
	k := NewKeyed(false, 0)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)
	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))

	count, _ := k.RemoveAckedMessages()
	require.Equal(t, 0, count)

	k.RemoveReader(r)
	count, deferred := k.RemoveAckedMessages()
	require.Equal(t, 1, count)
	k.FreeDeferredFreeList(deferred)
}

func TestKeyedNextSeq(t *testing.T) {
	k := NewKeyed(false, 0)
	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.NoError(t, k.Insert(context.Background(), 5, time.Time{}, sample("b"), 1))

	next, ok := k.NextSeq(1)
	require.True(t, ok)
	require.Equal(t, seqOf(5), next)

	_, ok = k.NextSeq(5)
	require.False(t, ok)
}

func TestKeyedBestEffortRejectsOnceHighWaterReached(t *testing.T) {
	k := NewKeyed(false, 0)
	k.SetWatermarks(false, 1, 2, 0, time.Second)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.NoError(t, k.Insert(context.Background(), 2, time.Time{}, sample("b"), 1))

	err := k.Insert(context.Background(), 3, time.Time{}, sample("c"), 1)
	require.Error(t, err)
	require.Equal(t, retcode.OutOfResources, retcode.CodeOf(err))
}

func TestKeyedReliableBlocksThenUnblocksOnAck(t *testing.T) {
	k := NewKeyed(false, 0)
	k.SetWatermarks(true, 1, 2, 0, time.Second)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	require.NoError(t, k.Insert(context.Background(), 2, time.Time{}, sample("b"), 1))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- k.Insert(context.Background(), 3, time.Time{}, sample("c"), 1)
	}()

	select {
	case <-unblocked:
		t.Fatal("insert returned before the low-water mark was reached")
	case <-time.After(50 * time.Millisecond):
	}

	k.UpdateReaderAck(r, 1, true)
	_, deferred := k.RemoveAckedMessages()
	k.FreeDeferredFreeList(deferred)

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("insert never unblocked after dropping below the low-water mark")
	}
}

func TestKeyedReliableBlockTimesOutPastMaxBlockingTime(t *testing.T) {
	k := NewKeyed(false, 0)
	k.SetWatermarks(true, 0, 1, 0, 20*time.Millisecond)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))

	err := k.Insert(context.Background(), 2, time.Time{}, sample("b"), 1)
	require.Error(t, err)
	require.Equal(t, retcode.Timeout, retcode.CodeOf(err))
}

func TestKeyedReliableBlockCanceledByContext(t *testing.T) {
	k := NewKeyed(false, 0)
	k.SetWatermarks(true, 0, 1, 0, time.Second)
	r := readerGUID(1)
	k.UpdateReaderAck(r, 0, true)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- k.Insert(ctx, 2, time.Time{}, sample("b"), 1)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, retcode.Timeout, retcode.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("insert never returned after context cancellation")
	}
}

func TestKeyedInitHighWaterAppliesBeforeFirstAck(t *testing.T) {
	k := NewKeyed(false, 0)
	k.SetWatermarks(false, 0, 10, 1, time.Second)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))
	err := k.Insert(context.Background(), 2, time.Time{}, sample("b"), 1)
	require.Error(t, err)
	require.Equal(t, retcode.OutOfResources, retcode.CodeOf(err))

	r := readerGUID(1)
	k.UpdateReaderAck(r, 1, true)
	// Steady-state high-water mark (10) now applies instead of init (1).
	require.NoError(t, k.Insert(context.Background(), 3, time.Time{}, sample("c"), 1))
}

func TestKeyedDowngradeToVolatileDropsRetainedOnly(t *testing.T) {
	k := NewKeyed(false, 0)
	r := readerGUID(1)
	k.MarkTransientLocal(r)
	k.UpdateReaderAck(r, 0, false)

	require.NoError(t, k.Insert(context.Background(), 1, time.Time{}, sample("a"), 1))

	count, _ := k.DowngradeToVolatile()
	require.Equal(t, 1, count)

	count2, _ := k.DowngradeToVolatile()
	require.Equal(t, 0, count2)
}
