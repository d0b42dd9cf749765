package tempstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateWriteReleaseCycle(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mysys")

	h, err := s.Create(4096)
	require.NoError(t, err)
	require.FileExists(t, h.Path)

	copy(h.Map.Buff, []byte("payload"))

	h2, err := Open(h.Path)
	require.NoError(t, err)
	require.Equal(t, "payload", string(h2.Map.Buff[:7]))
	require.NoError(t, h2.Unmap())

	require.NoError(t, h.Release())
	_, err = os.Stat(h.Path)
	require.True(t, os.IsNotExist(err))
}

func TestCreateNamesAreUnique(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "mysys")

	h1, err := s.Create(4096)
	require.NoError(t, err)
	h2, err := s.Create(4096)
	require.NoError(t, err)
	require.NotEqual(t, h1.Path, h2.Path)
	require.NoError(t, h1.Release())
	require.NoError(t, h2.Release())
}
