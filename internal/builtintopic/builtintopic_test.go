package builtintopic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtpsmesh/ddscore/internal/guid"
)

func TestPublishAliveThenDisposed(t *testing.T) {
	w := New(TopicPublication)
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	g := prefix.Entity(guid.NewEntityID(1, guid.KindWriter, guid.SourceUser))

	require.NoError(t, w.PublishAlive(g, func() []byte { return []byte("writer-info") }))
	st := w.GetState()
	require.False(t, st.Empty())

	require.NoError(t, w.PublishDisposed(g))
	e, ok := w.BorrowSampleKey(keyHashForGUID(g))
	require.True(t, ok)
	require.True(t, e.Serdata.StatusInfo().Dispose())
}

func TestKeepLastOnePerEntity(t *testing.T) {
	w := New(TopicTopic)
	prefix, err := guid.NewPrefix()
	require.NoError(t, err)
	g := prefix.Entity(guid.NewEntityID(1, guid.KindTopic, guid.SourceUser))

	require.NoError(t, w.PublishAlive(g, func() []byte { return []byte("v1") }))
	require.NoError(t, w.PublishAlive(g, func() []byte { return []byte("v2") }))

	count := 0
	it := w.IterInit()
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 1, count)
}
