package backing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		NEvents:      10,
		EventCap:     32,
		NStations:    8,
		NTemps:       4,
		NAttachments: 16,
		NProcesses:   16,
		SelectInts:   6,
		GroupCounts:  []uint32{10},
		TickHz:       10,
		TCPPort:      11111,
		HostName:     "testhost",
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "et-sys")

	sys, err := Create(path, testConfig())
	require.NoError(t, err)
	require.Equal(t, MagicTriplet, sys.Hdr.Magic)
	require.True(t, sys.Alive())
	require.NoError(t, sys.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint32(10), reopened.Hdr.NEvents)
	require.Equal(t, "testhost", reopened.Hdr.HostName)
}

func TestCreateTwiceFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "et-sys")

	sys, err := Create(path, testConfig())
	require.NoError(t, err)
	defer sys.Close()

	_, err = Create(path, testConfig())
	require.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "nope"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestBeatIncrements(t *testing.T) {
	dir := t.TempDir()
	sys, err := Create(filepath.Join(dir, "et-sys"), testConfig())
	require.NoError(t, err)
	defer sys.Close()

	require.Equal(t, uint64(0), sys.BeatValue())
	sys.Beat()
	sys.Beat()
	require.Equal(t, uint64(2), sys.BeatValue())
}

func TestKillSetsDead(t *testing.T) {
	dir := t.TempDir()
	sys, err := Create(filepath.Join(dir, "et-sys"), testConfig())
	require.NoError(t, err)
	defer sys.Close()

	require.True(t, sys.Alive())
	sys.Kill()
	require.False(t, sys.Alive())
	require.True(t, sys.Hdr.KillFlag)
}
