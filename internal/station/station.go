package station

import (
	"sync"

	"github.com/JeffersonLab/et-sub001/internal/event"
)

// FlowMode selects between a plain serial station and one that is part of
// a parallel sibling group (spec.md §3).
type FlowMode uint8

const (
	Serial FlowMode = iota
	Parallel
)

// UserMode distinguishes a station only one attachment may use at a time
// from one multiple attachments share (spec.md §3); SINGLE stations are
// eligible for auto-removal once their sole user detaches (spec.md §4.7).
type UserMode uint8

const (
	Multi UserMode = iota
	Single
)

// BlockingMode controls what the conductor does when a downstream input
// list is full (spec.md §4.3).
type BlockingMode uint8

const (
	NonBlocking BlockingMode = iota
	Blocking
)

// SelectMode picks the filter predicate applied at ingress (spec.md §4.3).
type SelectMode uint8

const (
	SelectAll SelectMode = iota
	SelectMatch
	SelectUser
)

// RestoreMode decides where a dying attachment's held events are returned
// (spec.md §4.7, glossary "Restore mode").
type RestoreMode uint8

const (
	RestoreToInput RestoreMode = iota
	RestoreToOutput
	RestoreToGrandCentral
	RestoreRedistribute
)

// Distribution picks how a parallel group spreads incoming events across
// its siblings (spec.md §4.4).
type Distribution uint8

const (
	RoundRobin Distribution = iota
	EqualCue
)

// Config is a station's configuration block (spec.md §3).
type Config struct {
	Flow         FlowMode
	User         UserMode
	Restore      RestoreMode
	Blocking     BlockingMode
	Select       SelectMode
	Distribution Distribution
	Cue          int // nonblocking input cap
	Prescale     int // 1-in-N for BLOCKING
	SelectInts   event.SelectInts
	UserFilter   string // name registered via RegisterFilter, used when Select == SelectUser
}

// FilterFunc is the capability object standing in for the original's
// dlopen'd predicate (spec.md §9 design note: "Reimplement as a
// capability object... the core holds it as a tagged enum"). A Go binary
// cannot load new executable code at runtime the way the C original
// dlopen's a shared object, so user filters are registered by name ahead
// of time and looked up through the Select field's tag instead.
type FilterFunc func(systemID, stationID uint32, d *event.Descriptor) bool

var (
	filterRegistryMu sync.RWMutex
	filterRegistry   = map[string]FilterFunc{}
)

// RegisterFilter installs a USER-mode filter predicate under name, for
// Config.UserFilter to reference.
func RegisterFilter(name string, fn FilterFunc) {
	filterRegistryMu.Lock()
	defer filterRegistryMu.Unlock()
	filterRegistry[name] = fn
}

func lookupFilter(name string) (FilterFunc, bool) {
	filterRegistryMu.RLock()
	defer filterRegistryMu.RUnlock()
	fn, ok := filterRegistry[name]
	return fn, ok
}

// GrandCentralID is the station id GrandCentral always occupies (spec.md
// §3: "GrandCentral is station id 0 and always exists").
const GrandCentralID uint32 = 0

// Station is one node of the graph: a named filter plus bounded
// input/output queues (spec.md §3 "Station").
type Station struct {
	ID     uint32
	Name   string
	Config Config
	Input  *List
	Output *List

	mu sync.Mutex

	// main ring neighbors
	prev, next *Station
	// parallel sibling ring, nil for a station with no siblings
	prevParallel, nextParallel *Station
	// wasLast lives on the anchor (the sibling actually linked into the
	// main ring) and remembers which sibling last received an event
	// under round-robin distribution (spec.md §4.4).
	wasLast *Station

	killed      bool
	attachments map[uint32]struct{}
}

func newStation(id uint32, name string, cfg Config) *Station {
	return &Station{
		ID:          id,
		Name:        name,
		Config:      cfg,
		Input:       NewList(cfg.Cue),
		Output:      NewList(0),
		attachments: make(map[uint32]struct{}),
	}
}

// Accept evaluates this station's ingress filter against d (spec.md §4.3).
// Filtering is performed by the upstream conductor against the downstream
// station's configuration, never by the station against its own queue.
func (s *Station) Accept(systemID uint32, d *event.Descriptor) bool {
	switch s.Config.Select {
	case SelectAll:
		return true
	case SelectMatch:
		return event.MatchSelect(s.Config.SelectInts, d)
	case SelectUser:
		fn, ok := lookupFilter(s.Config.UserFilter)
		if !ok {
			return false
		}
		return fn(systemID, s.ID, d)
	default:
		return false
	}
}

// AddAttachment/RemoveAttachment track which attachments currently use
// this station, for SINGLE-station enforcement and for wakeup_all
// (spec.md §4.6, §4.7).
func (s *Station) AddAttachment(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[id] = struct{}{}
}

func (s *Station) RemoveAttachment(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attachments, id)
}

func (s *Station) AttachmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attachments)
}

func (s *Station) AttachmentIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.attachments))
	for id := range s.attachments {
		ids = append(ids, id)
	}
	return ids
}

// Kill marks the station's conductor flag KILL (spec.md §4.5: "the station
// record carries a conductor flag in {KEEP, KILL}... Teardown of a station
// is the only event that sets KILL").
func (s *Station) Kill() {
	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()
}

func (s *Station) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}
