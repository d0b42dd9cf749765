package netserver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/backing"
	"github.com/JeffersonLab/et-sub001/internal/pool"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/JeffersonLab/et-sub001/internal/tempstore"
	"github.com/JeffersonLab/et-sub001/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	g := station.NewGraph()
	atts := attach.NewRegistry()
	ts := tempstore.New(t.TempDir(), "testsys")
	p := pool.New(g, atts, ts, 32, 1)
	p.Init(4)

	s := New(p, g, atts, Config{
		TCPAddr: "127.0.0.1:0",
		UDPAddr: "127.0.0.1:0",
		Secret:  []byte("test-secret"),
	})
	return s, "127.0.0.1:0"
}

// clientAuth performs the handshake a remote client stub would, used here
// directly against a net.Pipe to exercise authenticate() without standing
// up a real listener.
func clientAuth(t *testing.T, conn net.Conn, secret []byte) {
	t.Helper()
	f, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdAuthChallenge, f.Command)
	c, err := wire.DecodeChallenge(f.Payload)
	require.NoError(t, err)

	r := wire.Respond(secret, c)
	require.NoError(t, wire.WriteFrame(conn, wire.Frame{Command: wire.CmdAuthResponse, Payload: wire.EncodeResponse(r)}))

	ok, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	status, _, err := wire.SplitStatus(ok)
	require.NoError(t, err)
	require.EqualValues(t, 0, status)
}

func TestAuthenticateAcceptsCorrectSecret(t *testing.T) {
	s, _ := newTestServer(t)
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- s.authenticate(server) }()

	clientAuth(t, client, []byte("test-secret"))
	require.NoError(t, <-done)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	s, _ := newTestServer(t)
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- s.authenticate(server) }()

	f, err := wire.ReadFrame(client)
	require.NoError(t, err)
	c, err := wire.DecodeChallenge(f.Payload)
	require.NoError(t, err)
	r := wire.Respond([]byte("wrong-secret"), c)
	require.NoError(t, wire.WriteFrame(client, wire.Frame{Command: wire.CmdAuthResponse, Payload: wire.EncodeResponse(r)}))

	// net.Pipe is unbuffered: the server's rejection frame must be read
	// before authenticate can return.
	rej, err := wire.ReadFrame(client)
	require.NoError(t, err)
	status, _, err := wire.SplitStatus(rej)
	require.NoError(t, err)
	require.NotEqualValues(t, 0, status)

	require.Error(t, <-done)
}

func TestServeRespondsToPingOverTCP(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // free the port; Serve rebinds it

	s.tcpAddr = addr
	s.udpAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	clientAuth(t, conn, []byte("test-secret"))

	require.NoError(t, wire.WriteFrame(conn, wire.Frame{Command: wire.CmdPing}))
	resp, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.CmdPong, resp.Command)
}

func TestBuildDiscoveryReplyBumpsEpochAndWritesCacheOnce(t *testing.T) {
	s, _ := newTestServer(t)

	sysPath := filepath.Join(t.TempDir(), "test.et")
	sys, err := backing.Create(sysPath, backing.Config{NEvents: 4, EventCap: 32, NStations: 4, NTemps: 1, NAttachments: 4, NProcesses: 4})
	require.NoError(t, err)
	defer sys.Close()

	s.sys = sys
	s.cachePath = sysPath + ".discovery"

	before := sys.Hdr.AddrEpoch
	s.buildDiscoveryReply()
	require.Greater(t, sys.Hdr.AddrEpoch, before)
	require.FileExists(t, s.cachePath)

	afterFirst := sys.Hdr.AddrEpoch
	s.buildDiscoveryReply()
	require.Equal(t, afterFirst, sys.Hdr.AddrEpoch, "epoch must not bump again when the address set is unchanged")

	data, err := os.ReadFile(s.cachePath)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
