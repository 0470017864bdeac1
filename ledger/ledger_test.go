package ledger

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendChainsHashes(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	e1, err := l.Append("doc", "k1", json.RawMessage(`{"op":"set_body"}`))
	require.NoError(t, err)
	require.True(t, e1.Previous.IsZero())

	e2, err := l.Append("doc", "k2", json.RawMessage(`{"op":"set_body"}`))
	require.NoError(t, err)
	require.Equal(t, e1.Hash(), e2.Previous)

	require.Equal(t, 2, l.Len())
	require.Equal(t, e2.Hash(), l.Tip())
}

func TestReopenReloadsVerifiedChain(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	_, err = l.Append("doc", "k1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = l.Append("doc", "k2", json.RawMessage(`{}`))
	require.NoError(t, err)
	want := l.Tip()

	reopened, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, 2, reopened.Len())
	require.Equal(t, want, reopened.Tip())
}

// A trailing entry whose chain cannot be verified (e.g. truncated by a
// crash mid-write) is discarded rather than breaking the whole load.
func TestOpenDiscardsBrokenTrailingEntry(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	_, err = l.Append("doc", "k1", json.RawMessage(`{}`))
	require.NoError(t, err)

	entriesDir := filepath.Join(dir, "entries")
	corrupt := []byte(`not valid json`)
	require.NoError(t, ioutil.WriteFile(filepath.Join(entriesDir, "00000000000000000001"), corrupt, 0o644))

	reopened, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Len(), "the corrupt trailing entry must be discarded, not fatal")
}

func TestAtAndAll(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	e0, err := l.Append("doc", "k1", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Equal(t, e0, l.At(0))
	require.Equal(t, []Entry{e0}, l.All())
}
