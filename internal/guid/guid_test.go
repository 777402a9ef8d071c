package guid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPrefixUnique(t *testing.T) {
	a, err := NewPrefix()
	require.NoError(t, err)
	b, err := NewPrefix()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestEntityIDEncodesKindAndSource(t *testing.T) {
	id := NewEntityID(7, KindWriter, SourceBuiltin)
	require.Equal(t, KindWriter, id.Kind())
	require.Equal(t, SourceBuiltin, id.Source())
}

func TestEntityGUIDSharesPrefix(t *testing.T) {
	p, err := NewPrefix()
	require.NoError(t, err)

	w := p.Entity(NewEntityID(1, KindWriter, SourceUser))
	r := p.Entity(NewEntityID(2, KindReader, SourceUser))
	require.Equal(t, p, w.Prefix)
	require.Equal(t, p, r.Prefix)
	require.NotEqual(t, w.EntityID, r.EntityID)
}
