package blob

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	h, err := s.Put([]byte("hello world"))
	require.NoError(t, err)

	ok, err := s.Exists(h)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(h)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestPutIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	h1, err := s.Put([]byte("same bytes"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	h := roothash.Sum([]byte("never written"))

	_, err = s.Get(h)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteThenExists(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	h, err := s.Put([]byte("to be deleted"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(h))

	ok, err := s.Exists(h)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadThroughCacheServesSameBytes(t *testing.T) {
	s, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	h, err := s.Put([]byte("cached value"))
	require.NoError(t, err)

	got1, err := s.Get(h)
	require.NoError(t, err)
	got2, err := s.Get(h)
	require.NoError(t, err)
	require.Equal(t, got1, got2)
}
