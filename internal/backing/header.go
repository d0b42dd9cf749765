package backing

import (
	"bytes"
	"encoding/gob"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// MagicTriplet is stored in the encoded header, which starts after an
// 8-byte tag at the front of every backing file, and is checked on every
// reattach (spec.md §4.1 (a)).
var MagicTriplet = [3]uint32{0x4554, 0x4c49, 0x4233} // "ET" "LI" "B3"

const (
	// HeaderVersion changes whenever the on-disk header layout changes.
	// A mismatched version is rejected the same way a mismatched build
	// width is (spec.md §9: "reject mismatched opens").
	HeaderVersion uint32 = 1

	// headerReservedBytes bounds how much of the mapped region the
	// header may occupy; station table, histogram, event table and data
	// region all begin at this fixed offset regardless of how much of
	// it the gob-encoded header actually uses.
	headerReservedBytes = 64 * 1024
)

var (
	ErrBadMagic       = errors.New("backing: bad magic triplet")
	ErrWidthMismatch  = errors.New("backing: cross-width open rejected")
	ErrVersionMismatch = errors.New("backing: header version mismatch")
	ErrAlreadyOpen    = errors.New("backing: system already open")
)

// Header is the system header (spec.md §3 "System header"): magic triplet,
// version, build width / kill bit, configured sizes, tick rate, per-group
// event counts, server TCP port, host name. The heartbeat counter is not
// part of it; it lives in System as a process-local atomic.
//
// Pointers stored elsewhere in the map (station next/prev, event next) are
// kept as plain byte offsets into the FileMap's Buff, so — unlike the
// original C implementation — no explicit per-process base subtraction is
// needed to translate them: indexing a Go byte slice is already relative to
// wherever that slice happens to live in this process's address space. No
// per-process base address is stored in the header.
type Header struct {
	Magic        [3]uint32
	Version      uint32
	Build64      bool
	KillFlag     bool
	InstanceID   uuid.UUID
	NEvents      uint32
	EventCap     uint32 // bytes per event slot
	NStations    uint32
	NTemps       uint32
	NAttachments uint32
	NProcesses   uint32
	SelectInts   uint32
	GroupCount   uint16
	GroupCounts  []uint32 // length GroupCount, events configured per group
	TickHz       uint32
	TCPPort      uint16
	HostName     string
	// AddrEpoch is bumped whenever the discovery listener finds that the
	// enumerated local address set has changed since its last reply
	// (SPEC_FULL.md §3), so a network reconfiguration is always visible.
	AddrEpoch uint64
}

// Config is the caller-supplied sizing record used at system creation
// (spec.md §3: "Sizes are fixed at system start from a configuration
// record").
type Config struct {
	NEvents      uint32
	EventCap     uint32
	NStations    uint32
	NTemps       uint32
	NAttachments uint32
	NProcesses   uint32
	SelectInts   uint32
	GroupCounts  []uint32
	TickHz       uint32
	TCPPort      uint16
	HostName     string
}

// System is a process's live handle onto an open backing map: the mmap
// itself plus the in-memory mirror of the header and the atomic heartbeat
// and membership counters every attached process mutates.
type System struct {
	mu   sync.Mutex
	file *os.File
	lock *flock.Flock
	Map  *FileMap
	Hdr  Header

	// heartbeat is this process's own beat counter (spec.md §4.7); the
	// system-side monitor and this process's own heartbeat thread both
	// touch it, hence atomic rather than mu-guarded.
	heartbeat uint64
	alive     int32 // atomic bool: 0 dead, 1 alive
}

func is64BitBuild() bool { return true } // Go on this platform is always 64-bit

// Create makes a fresh backing file at path and writes a new header built
// from cfg. The file is created under an exclusive flock held only for the
// duration of header initialization (SPEC_FULL.md §4.1), so two processes
// racing to create the same system never both observe a zero-length file
// and both try to initialize it — the teacher's own go.mod pulls in
// github.com/gofrs/flock for exactly this kind of cross-process creation
// race, though no file we read exercised it.
func Create(path string, cfg Config) (*System, error) {
	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrAlreadyOpen
	}
	defer lk.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	sizeBytes := int64(headerReservedBytes) + int64(cfg.NStations)*stationRecordSize +
		int64(cfg.NEvents+1)*histogramSlotSize + int64(cfg.NEvents)*eventRecordSize +
		int64(cfg.NEvents)*int64(cfg.EventCap)
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		return nil, err
	}

	fm, err := MapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	hdr := Header{
		Magic:        MagicTriplet,
		Version:      HeaderVersion,
		Build64:      is64BitBuild(),
		InstanceID:   uuid.New(),
		NEvents:      cfg.NEvents,
		EventCap:     cfg.EventCap,
		NStations:    cfg.NStations,
		NTemps:       cfg.NTemps,
		NAttachments: cfg.NAttachments,
		NProcesses:   cfg.NProcesses,
		SelectInts:   cfg.SelectInts,
		GroupCount:   uint16(len(cfg.GroupCounts)),
		GroupCounts:  cfg.GroupCounts,
		TickHz:       cfg.TickHz,
		TCPPort:      cfg.TCPPort,
		HostName:     cfg.HostName,
	}
	s := &System{file: f, Map: fm, Hdr: hdr}
	atomic.StoreInt32(&s.alive, 1)
	if err := s.saveHeader(); err != nil {
		fm.Close()
		f.Close()
		return nil, err
	}
	return s, nil
}

// Open attaches to an existing backing file, validating the magic triplet,
// header version, and build width before returning a handle (spec.md §9:
// cross-width opens are rejected outright, never translated).
func Open(path string) (*System, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	fm, err := MapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &System{file: f, Map: fm}
	if err := s.loadHeader(); err != nil {
		fm.Close()
		f.Close()
		return nil, err
	}
	if s.Hdr.Magic != MagicTriplet {
		fm.Close()
		f.Close()
		return nil, ErrBadMagic
	}
	if s.Hdr.Version != HeaderVersion {
		fm.Close()
		f.Close()
		return nil, ErrVersionMismatch
	}
	if s.Hdr.Build64 != is64BitBuild() {
		fm.Close()
		f.Close()
		return nil, ErrWidthMismatch
	}
	atomic.StoreInt32(&s.alive, 1)
	return s, nil
}

func (s *System) saveHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.Hdr); err != nil {
		return err
	}
	if buf.Len() > headerReservedBytes-8 {
		return errors.New("backing: encoded header exceeds reserved region")
	}
	copy(s.Map.Buff[0:8], []byte{'E', 'T', 'H', 'D', 'R', '0', '0', '1'})
	copy(s.Map.Buff[8:], buf.Bytes())
	return nil
}

func (s *System) loadHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Map.Buff) < headerReservedBytes {
		return ErrBadMagic
	}
	dec := gob.NewDecoder(bytes.NewReader(s.Map.Buff[8:headerReservedBytes]))
	return dec.Decode(&s.Hdr)
}

// Beat increments this process's heartbeat counter (spec.md §4.7
// "Heartbeat"). The monitor side observes this value through its own
// sampling of the process table; here it is exposed directly for the
// in-process heartbeat goroutine to call once per tick.
func (s *System) Beat() uint64 { return atomic.AddUint64(&s.heartbeat, 1) }

func (s *System) BeatValue() uint64 { return atomic.LoadUint64(&s.heartbeat) }

// Alive reports the locally observed liveness of the system (false once
// this process's heartmonitor has declared the system dead, or the header
// kill flag has been observed set).
func (s *System) Alive() bool { return atomic.LoadInt32(&s.alive) == 1 }

func (s *System) SetAlive(v bool) {
	if v {
		atomic.StoreInt32(&s.alive, 1)
	} else {
		atomic.StoreInt32(&s.alive, 0)
	}
}

// BumpAddrEpoch increments the header's address-table epoch and returns the
// new value. Every call bumps it; the discovery listener calls it only when
// the enumerated local address set has changed (SPEC_FULL.md §3).
func (s *System) BumpAddrEpoch() uint64 {
	s.mu.Lock()
	s.Hdr.AddrEpoch++
	v := s.Hdr.AddrEpoch
	s.mu.Unlock()
	_ = s.saveHeader()
	return v
}

// Kill sets the header kill bit (spec.md §4.7: "a kill bit in the header:
// when set... the system heartbeat thread stops beating and unmaps").
func (s *System) Kill() {
	s.mu.Lock()
	s.Hdr.KillFlag = true
	s.mu.Unlock()
	_ = s.saveHeader()
	s.SetAlive(false)
}

func (s *System) Close() error {
	if s.Map != nil {
		_ = s.Map.Close()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Layout constants sizing the fixed regions that follow the header
// (spec.md §6 "Layout: header, station table, histogram, event table, data
// region").
const (
	stationRecordSize = 512
	eventRecordSize   = 256
	histogramSlotSize = 8
)
