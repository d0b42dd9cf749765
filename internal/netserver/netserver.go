// Package netserver implements the remote access server (C8, spec.md
// §4.8): a TCP listener dispatching framed requests against the pool and
// station graph, and a UDP discovery responder that answers a broadcast
// probe with every local address the system is reachable on.
//
// Grounded on the teacher's IngestMuxer connection-supervision pattern
// (muxer.go): an errgroup.Group runs the accept loop and the discovery
// loop side by side and tears both down together on first error, the way
// IngestMuxer runs one goroutine per configured destination.
package netserver

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/backing"
	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/JeffersonLab/et-sub001/internal/pool"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/JeffersonLab/et-sub001/internal/wire"
)

// Server dispatches remote pool/station/attach operations received over
// TCP, and answers UDP discovery probes.
type Server struct {
	pool  *pool.Pool
	graph *station.Graph
	atts  *attach.Registry
	addrs *interfaceLister
	sys   *backing.System // nil in tests that don't exercise epoch/cache bumping

	secret []byte // shared secret verified during the auth handshake (spec.md §6)

	nextProcessID uint32
	systemID      uint32

	tcpAddr string
	udpAddr string

	cachePath   string   // optional, see writeDiscoveryCache
	lastAddrs   []string // last address set reported to the backing header/cache
}

// Config bundles what New needs beyond the pool/graph/attach triad.
type Config struct {
	TCPAddr  string
	UDPAddr  string
	Secret   []byte
	SystemID uint32
	Sys      *backing.System // optional: bumps Hdr.AddrEpoch and writes CachePath on address-set change
	CachePath string         // optional: atomically rewritten discovery-reply cache (SPEC_FULL.md §11 renameio)
}

// New returns a server ready to Serve.
func New(p *pool.Pool, g *station.Graph, atts *attach.Registry, cfg Config) *Server {
	return &Server{
		pool:          p,
		graph:         g,
		atts:          atts,
		addrs:         newInterfaceLister(),
		sys:           cfg.Sys,
		secret:        cfg.Secret,
		nextProcessID: 1,
		systemID:      cfg.SystemID,
		tcpAddr:       cfg.TCPAddr,
		udpAddr:       cfg.UDPAddr,
		cachePath:     cfg.CachePath,
	}
}

// Serve runs the TCP accept loop and the UDP discovery loop until ctx is
// cancelled or either loop fails (spec.md §4.8).
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.tcpAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	pc, err := net.ListenPacket("udp", s.udpAddr)
	if err != nil {
		return err
	}
	defer pc.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.discoveryLoop(gctx, pc) })
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		pc.Close()
		return gctx.Err()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn authenticates, then dispatches frames one at a time until a
// frame read or a response write fails (for example, the connection
// closes). A failed read wakes the connection's attachment, if any.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if err := s.authenticate(conn); err != nil {
		return
	}

	processID := atomic.AddUint32(&s.nextProcessID, 1) - 1
	var att *attach.Attachment

	for {
		f, err := wire.ReadFrame(conn)
		if err != nil {
			if att != nil {
				att.Wakeup()
			}
			return
		}
		resp, newAtt := s.dispatch(ctx, processID, att, f)
		if newAtt != nil {
			att = newAtt
		}
		if err := wire.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) authenticate(conn net.Conn) error {
	c, err := wire.NewChallenge()
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Command: wire.CmdAuthChallenge, Payload: wire.EncodeChallenge(c)}); err != nil {
		return err
	}
	f, err := wire.ReadFrame(conn)
	if err != nil || f.Command != wire.CmdAuthResponse {
		return errors.New("netserver: expected auth response")
	}
	r, err := wire.DecodeResponse(f.Payload)
	if err != nil {
		return err
	}
	if err := wire.Verify(s.secret, c, r); err != nil {
		_ = wire.WriteFrame(conn, wire.StatusFrame(wire.CmdAuthOK, event.WireCode(err), nil))
		return err
	}
	return wire.WriteFrame(conn, wire.StatusFrame(wire.CmdAuthOK, 0, nil))
}

// dispatch applies one request frame and returns the response frame, plus a
// freshly created attachment when f was a CmdAttach (so handleConn can
// remember it for subsequent frames on the same connection).
func (s *Server) dispatch(ctx context.Context, processID uint32, att *attach.Attachment, f wire.Frame) (wire.Frame, *attach.Attachment) {
	switch f.Command {
	case wire.CmdPing:
		return wire.Frame{Command: wire.CmdPong}, nil

	case wire.CmdAttach:
		var req attachRequest
		if err := decodeGob(f.Payload, &req); err != nil {
			return errorFrame(f.Command, err), nil
		}
		st, ok := s.graph.LookupByName(req.Station)
		if !ok {
			return errorFrame(f.Command, event.ErrBadArgument), nil
		}
		if st.Config.User == station.Single && st.AttachmentCount() > 0 {
			return errorFrame(f.Command, event.ErrLimitExceeded), nil
		}
		newAtt := s.atts.Create(processID, st.ID, req.Host)
		st.AddAttachment(newAtt.ID)
		return wire.StatusFrame(f.Command, 0, encodeGob(attachReply{ID: newAtt.ID})), newAtt

	case wire.CmdDetach:
		if att == nil {
			return errorFrame(f.Command, event.ErrBadArgument), nil
		}
		if st, ok := s.graph.Lookup(att.StationID); ok {
			st.RemoveAttachment(att.ID)
		}
		if err := s.atts.Detach(att); err != nil {
			return errorFrame(f.Command, event.ErrBadArgument), nil
		}
		return wire.StatusFrame(f.Command, 0, nil), nil

	case wire.CmdNew:
		return s.dispatchNew(ctx, att, f)
	case wire.CmdGet:
		return s.dispatchGet(ctx, att, f)
	case wire.CmdPut:
		return s.dispatchRelease(att, f, false)
	case wire.CmdDump:
		return s.dispatchRelease(att, f, true)

	case wire.CmdWakeup:
		if att != nil {
			att.Wakeup()
		}
		return wire.StatusFrame(f.Command, 0, nil), nil

	case wire.CmdWakeupAll:
		var req wakeupAllRequest
		if err := decodeGob(f.Payload, &req); err != nil {
			return errorFrame(f.Command, err), nil
		}
		s.atts.WakeupAll(req.StationID)
		return wire.StatusFrame(f.Command, 0, nil), nil

	default:
		return errorFrame(f.Command, event.ErrIllegalMsgType), nil
	}
}

func (s *Server) dispatchNew(ctx context.Context, att *attach.Attachment, f wire.Frame) (wire.Frame, *attach.Attachment) {
	if att == nil {
		return errorFrame(f.Command, event.ErrBadArgument), nil
	}
	var req newRequest
	if err := decodeGob(f.Payload, &req); err != nil {
		return errorFrame(f.Command, err), nil
	}
	got, err := s.pool.New(ctx, att, req.Size, req.Count, req.Group, req.Mode)
	if err != nil {
		return errorFrame(f.Command, err), nil
	}
	return wire.StatusFrame(f.Command, 0, encodeGob(descriptorsReply{Events: got})), nil
}

func (s *Server) dispatchGet(ctx context.Context, att *attach.Attachment, f wire.Frame) (wire.Frame, *attach.Attachment) {
	if att == nil {
		return errorFrame(f.Command, event.ErrBadArgument), nil
	}
	var req getRequest
	if err := decodeGob(f.Payload, &req); err != nil {
		return errorFrame(f.Command, err), nil
	}
	got, err := s.pool.Get(ctx, att, req.Count, req.Mode)
	if err != nil {
		return errorFrame(f.Command, err), nil
	}
	return wire.StatusFrame(f.Command, 0, encodeGob(descriptorsReply{Events: got})), nil
}

func (s *Server) dispatchRelease(att *attach.Attachment, f wire.Frame, dump bool) (wire.Frame, *attach.Attachment) {
	if att == nil {
		return errorFrame(f.Command, event.ErrBadArgument), nil
	}
	var req releaseRequest
	if err := decodeGob(f.Payload, &req); err != nil {
		return errorFrame(f.Command, err), nil
	}
	var err error
	if dump {
		err = s.pool.Dump(att, req.Events)
	} else {
		err = s.pool.Put(att, req.Events)
	}
	if err != nil {
		return errorFrame(f.Command, err), nil
	}
	return wire.StatusFrame(f.Command, 0, nil), nil
}

func errorFrame(cmd wire.Command, err error) wire.Frame {
	return wire.StatusFrame(cmd, event.WireCode(err), nil)
}

func encodeGob(v interface{}) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(v)
	// every payload is snappy-compressed (decodeGob always decompresses),
	// grounded on the teacher's use of github.com/golang/snappy for
	// on-the-wire entry payloads.
	return snappy.Encode(nil, buf.Bytes())
}

func decodeGob(b []byte, v interface{}) error {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}

// discoveryLoop answers UDP broadcast probes with every local address this
// system listens on (SPEC_FULL.md §12, supplementing the single-address
// reply of spec.md with the original's multi-interface behavior).
func (s *Server) discoveryLoop(ctx context.Context, pc net.PacketConn) error {
	buf := make([]byte, 512)
	for {
		_ = pc.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return err
			}
		}
		if n == 0 || buf[0] != discoveryProbeMagic {
			continue
		}
		reply := s.buildDiscoveryReply()
		_, _ = pc.WriteTo(reply, addr)
	}
}

const discoveryProbeMagic = 0xE7

// buildDiscoveryReply enumerates every local unicast address (spec.md §12).
// When the address set has changed since the last reply, it bumps the
// backing header's AddrEpoch and rewrites the on-disk discovery cache, so a
// network reconfiguration is never served stale (SPEC_FULL.md §3).
func (s *Server) buildDiscoveryReply() []byte {
	addrs := s.addrs.localAddresses()
	if !reflect.DeepEqual(addrs, s.lastAddrs) {
		s.lastAddrs = addrs
		if s.sys != nil {
			s.sys.BumpAddrEpoch()
		}
		s.writeDiscoveryCache(addrs)
	}
	var buf bytes.Buffer
	buf.WriteByte(discoveryProbeMagic + 1)
	_ = gob.NewEncoder(&buf).Encode(discoveryReply{SystemID: s.systemID, Addresses: addrs, TCPAddr: s.tcpAddr})
	return buf.Bytes()
}

// writeDiscoveryCache atomically rewrites the last-known-good discovery
// reply to disk via renameio (SPEC_FULL.md §11): a reader of the cache file
// never observes a half-written address list, mirroring the teacher's own
// atomic config rewrite pattern. A no-op when no cache path is configured.
func (s *Server) writeDiscoveryCache(addrs []string) {
	if s.cachePath == "" {
		return
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(discoveryReply{SystemID: s.systemID, Addresses: addrs, TCPAddr: s.tcpAddr})
	_ = renameio.WriteFile(filepath.Clean(s.cachePath), buf.Bytes(), 0644)
}

type discoveryReply struct {
	SystemID  uint32
	Addresses []string
	TCPAddr   string
}

type interfaceLister struct{}

func newInterfaceLister() *interfaceLister { return &interfaceLister{} }

func (l *interfaceLister) localAddresses() []string {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ifaces))
	for _, a := range ifaces {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out
}

type attachRequest struct {
	Station string
	Host    string
}

type attachReply struct {
	ID uint32
}

type newRequest struct {
	Size  uint32
	Count int
	Group uint16
	Mode  pool.Mode
}

type getRequest struct {
	Count int
	Mode  pool.Mode
}

type releaseRequest struct {
	Events []*event.Descriptor
}

type descriptorsReply struct {
	Events []*event.Descriptor
}

type wakeupAllRequest struct {
	StationID uint32
}
