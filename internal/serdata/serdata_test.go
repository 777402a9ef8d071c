package serdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewHasRefcountOne(t *testing.T) {
	sd := New(KindData, KeyHash{1}, time.Now(), 0, []byte("hello"))
	require.EqualValues(t, 1, sd.RefCount())
	require.Equal(t, KindData, sd.Kind())
	require.Equal(t, []byte("hello"), sd.Payload())
}

func TestRefUnrefBalances(t *testing.T) {
	sd := New(KindKey, KeyHash{2}, time.Now(), StatusDispose, nil)
	sd.Ref()
	sd.Ref()
	require.EqualValues(t, 3, sd.RefCount())

	require.False(t, sd.Unref())
	require.False(t, sd.Unref())
	require.True(t, sd.Unref())
}

func TestStatusInfoFlags(t *testing.T) {
	both := StatusDispose | StatusUnregister
	require.True(t, both.Dispose())
	require.True(t, both.Unregister())

	require.False(t, StatusInfo(0).Dispose())
	require.False(t, StatusInfo(0).Unregister())
}
