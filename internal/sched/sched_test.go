package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFiresInOrder(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	var fired []int
	done := make(chan struct{})

	s.After(30*time.Millisecond, func(time.Time) {
		fired = append(fired, 2)
		close(done)
	})
	s.After(5*time.Millisecond, func(time.Time) {
		fired = append(fired, 1)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled events")
	}
	require.Equal(t, []int{1, 2}, fired)
}

func TestCancelPreventsFire(t *testing.T) {
	s := New(context.Background())
	defer s.Stop()

	fired := false
	id := s.After(20*time.Millisecond, func(time.Time) { fired = true })
	s.Cancel(id)

	time.Sleep(60 * time.Millisecond)
	require.False(t, fired)
}
