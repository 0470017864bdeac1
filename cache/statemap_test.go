package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
)

func TestStateMapRecordLookup(t *testing.T) {
	m, err := OpenStateMap(t.TempDir())
	require.NoError(t, err)

	state := roothash.Sum([]byte("state"))
	cacheHash := roothash.Sum([]byte("cache"))

	require.NoError(t, m.Record(state, cacheHash))

	got, ok, err := m.Lookup(state)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cacheHash, got)
}

func TestStateMapLookupMissing(t *testing.T) {
	m, err := OpenStateMap(t.TempDir())
	require.NoError(t, err)

	_, ok, err := m.Lookup(roothash.Sum([]byte("never recorded")))
	require.NoError(t, err)
	require.False(t, ok)
}
