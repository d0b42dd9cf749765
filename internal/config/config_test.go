package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConf = `
[System]
Name = test-system
Path = /tmp/test.et
Events = 1000
EventSize = 4KB
Stations = 16
Temps = 4
Attachments = 64
Processes = 32
SelectInts = 4
GroupCounts = 500
GroupCounts = 500
TickHz = 10
TCPPort = 11111
MulticastAddr = 239.200.0.1
MulticastTTL = 2
UDPPort = 11112
`

func writeConf(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "system.conf")
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLoadParsesSampleConfig(t *testing.T) {
	p := writeConf(t, sampleConf)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "test-system", cfg.System.Name)
	require.EqualValues(t, 1000, cfg.System.Events)
	require.EqualValues(t, 11111, cfg.System.TCPPort)
	require.Len(t, cfg.System.GroupCounts, 2)
}

func TestLoadRejectsMissingSection(t *testing.T) {
	p := writeConf(t, "[Other]\nFoo = bar\n")
	_, err := Load(p)
	require.ErrorIs(t, err, ErrMissingSection)
}

func TestEnvOverlayOverridesName(t *testing.T) {
	p := writeConf(t, sampleConf)
	t.Setenv("ET_SESSION", "overridden-name")
	t.Setenv("ET_UDP_PORT", "9999")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "overridden-name", cfg.System.Name)
	require.EqualValues(t, 9999, cfg.System.UDPPort)
}
