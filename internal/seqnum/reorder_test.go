package seqnum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReorderInOrderDeliversImmediately(t *testing.T) {
	r := NewReorder(Sentinel)

	out := r.Receive(1, "a")
	require.Equal(t, []any{"a"}, out)
	require.Equal(t, SeqNum(1), r.Delivered())

	out = r.Receive(2, "b")
	require.Equal(t, []any{"b"}, out)
}

func TestReorderSingleGapRecovered(t *testing.T) {
	// Scenario 2 from spec.md §8: writes 1..10, seq 5 dropped then retransmitted.
	r := NewReorder(Sentinel)
	for i := SeqNum(1); i <= 4; i++ {
		out := r.Receive(i, int(i))
		require.Equal(t, []any{int(i)}, out)
	}

	// 6..10 arrive before the retransmitted 5.
	for i := SeqNum(6); i <= 10; i++ {
		out := r.Receive(i, int(i))
		require.Nil(t, out)
	}
	require.Equal(t, SeqNum(4), r.Delivered())
	require.Equal(t, 5, r.PendingCount())

	missing := r.Missing(10)
	require.Equal(t, []SeqNum{5}, missing)

	out := r.Receive(5, 5)
	require.Equal(t, []any{5, 6, 7, 8, 9, 10}, out)
	require.Equal(t, SeqNum(10), r.Delivered())
	require.Equal(t, 0, r.PendingCount())
}

func TestReorderDuplicateIgnored(t *testing.T) {
	r := NewReorder(Sentinel)
	r.Receive(1, "a")
	out := r.Receive(1, "a-dup")
	require.Nil(t, out)
}

func TestReorderGapGivesUpAndResumes(t *testing.T) {
	r := NewReorder(Sentinel)
	r.Receive(1, "a")
	r.Receive(3, "c")
	r.Receive(4, "d")

	out := r.Gap(2, 2)
	require.Equal(t, []any{"c", "d"}, out)
	require.Equal(t, SeqNum(4), r.Delivered())
}

func TestReorderGapBeyondFrontierIsNoop(t *testing.T) {
	r := NewReorder(Sentinel)
	r.Receive(1, "a")
	out := r.Gap(5, 6)
	require.Nil(t, out)
	require.Equal(t, SeqNum(1), r.Delivered())
}
