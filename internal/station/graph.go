package station

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrStationExists   = errors.New("station: name already in use")
	ErrStationNotFound = errors.New("station: not found")
	ErrNotSingle       = errors.New("station: not a SINGLE-user station")
	ErrSiblingRequired = errors.New("station: parallel insert requires an existing anchor")
)

// Graph is the circular main ring of serial stations with parallel
// siblings hanging off each ring position (spec.md §4.4), seeded with the
// permanent GrandCentral sentinel.
type Graph struct {
	mu      sync.Mutex
	gc      *Station
	byID    map[uint32]*Station
	byName  map[string]*Station
	nextID  uint32
}

// NewGraph returns a graph containing only GrandCentral, whose ring
// pointers initially point to itself.
func NewGraph() *Graph {
	gc := newStation(GrandCentralID, "GRAND_CENTRAL", Config{Select: SelectAll})
	gc.next, gc.prev = gc, gc
	g := &Graph{
		gc:     gc,
		byID:   map[uint32]*Station{GrandCentralID: gc},
		byName: map[string]*Station{gc.Name: gc},
		nextID: 1,
	}
	return g
}

// GrandCentral returns the sentinel station.
func (g *Graph) GrandCentral() *Station { return g.gc }

// Lookup finds a station by id or name.
func (g *Graph) Lookup(id uint32) (*Station, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.byID[id]
	return s, ok
}

func (g *Graph) LookupByName(name string) (*Station, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.byName[name]
	return s, ok
}

// Create inserts a new SERIAL station into the main ring, immediately
// before GrandCentral, so ring order follows creation order:
// GC -> S1 -> S2 -> ... -> GC (spec.md §4.4: "a circular doubly-linked main
// ring seeded with GrandCentral").
func (g *Graph) Create(name string, cfg Config) (*Station, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.byName[name]; exists {
		return nil, ErrStationExists
	}
	cfg.Flow = Serial
	id := atomic.AddUint32(&g.nextID, 1) - 1
	s := newStation(id, name, cfg)

	last := g.gc.prev
	last.next = s
	s.prev = last
	s.next = g.gc
	g.gc.prev = s

	g.byID[id] = s
	g.byName[name] = s
	return s, nil
}

// CreateParallel attaches a new station as a parallel sibling of anchorName
// (spec.md §4.4: "A station may be inserted as a parallel sibling of an
// existing station; siblings share a single position in the main ring").
// All siblings in a group share flow semantics, so the anchor's
// Config.Distribution governs the whole group; a sibling's own
// cfg.Distribution is not consulted.
func (g *Graph) CreateParallel(anchorName, name string, cfg Config) (*Station, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	anchor, ok := g.byName[anchorName]
	if !ok {
		return nil, ErrSiblingRequired
	}
	if _, exists := g.byName[name]; exists {
		return nil, ErrStationExists
	}
	cfg.Flow = Parallel
	id := atomic.AddUint32(&g.nextID, 1) - 1
	s := newStation(id, name, cfg)

	// splice s into anchor's sibling ring
	last := anchor
	for last.nextParallel != nil && last.nextParallel != anchor {
		last = last.nextParallel
	}
	last.nextParallel = s
	s.prevParallel = last
	if anchor.prevParallel == nil {
		anchor.prevParallel = s // first sibling; the nextParallel chain still ends in nil
	}

	g.byID[id] = s
	g.byName[name] = s
	return s, nil
}

// Next returns the next main-ring station after s (ignoring parallel
// siblings — spec.md §4.4: "The ring is the only traversal order the
// conductor uses; parallel position decides the sibling target").
func (g *Graph) Next(s *Station) *Station {
	g.mu.Lock()
	defer g.mu.Unlock()
	return s.next
}

// Siblings returns every parallel sibling sharing s's ring position,
// including s itself, in sibling-ring order starting from the anchor.
func (g *Graph) Siblings(s *Station) []*Station {
	g.mu.Lock()
	defer g.mu.Unlock()
	anchor := s
	for anchor.prevParallel != nil && anchor.prevParallel.nextParallel == anchor {
		anchor = anchor.prevParallel
	}
	out := []*Station{anchor}
	cur := anchor.nextParallel
	for cur != nil && cur != anchor {
		out = append(out, cur)
		cur = cur.nextParallel
	}
	return out
}

// PickSibling chooses the parallel-group target for the next event
// entering at ring position anchor, implementing both distribution
// policies of spec.md §4.4.
func (g *Graph) PickSibling(anchor *Station) *Station {
	sibs := g.Siblings(anchor)
	if len(sibs) == 1 {
		return sibs[0]
	}
	switch anchor.Config.Distribution {
	case EqualCue:
		var best *Station
		bestCount := -1
		for _, sib := range sibs {
			if sib.Input.Full() {
				continue
			}
			c := sib.Input.Count()
			if bestCount == -1 || c < bestCount {
				best, bestCount = sib, c
			}
		}
		return best
	default: // RoundRobin
		g.mu.Lock()
		start := anchor.wasLast
		g.mu.Unlock()
		idx := len(sibs) - 1 // so the first-ever pick (start==nil) lands on sibs[0]
		if start != nil {
			for i, sib := range sibs {
				if sib == start {
					idx = i
					break
				}
			}
		}
		for i := 1; i <= len(sibs); i++ {
			candidate := sibs[(idx+i)%len(sibs)]
			if !candidate.Input.Full() {
				g.mu.Lock()
				anchor.wasLast = candidate
				g.mu.Unlock()
				return candidate
			}
		}
		return nil // every sibling full
	}
}

// Remove tears down a station: it must have no attachments. The station's
// conductor is killed by the caller before Remove is called (spec.md
// §4.5: "Teardown of a station is the only event that sets KILL").
func (g *Graph) Remove(id uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == GrandCentralID {
		return errors.New("station: GrandCentral is permanent")
	}
	s, ok := g.byID[id]
	if !ok {
		return ErrStationNotFound
	}
	if s.AttachmentCount() > 0 {
		return errors.New("station: still has attachments")
	}
	if s.prevParallel != nil || s.nextParallel != nil {
		// detach from sibling ring only
		if s.prevParallel != nil {
			s.prevParallel.nextParallel = s.nextParallel
		}
		if s.nextParallel != nil {
			s.nextParallel.prevParallel = s.prevParallel
		}
	} else {
		s.prev.next = s.next
		s.next.prev = s.prev
	}
	delete(g.byID, id)
	delete(g.byName, s.Name)
	return nil
}

// MaybeAutoRemove removes s if it is a SINGLE-user station with no
// remaining attachments (spec.md §4.7: "if the dying process was the only
// user of a single-user station it may also be eligible for
// auto-removal").
func (g *Graph) MaybeAutoRemove(s *Station) {
	if s.ID == GrandCentralID {
		return
	}
	if s.Config.User != Single {
		return
	}
	if s.AttachmentCount() > 0 {
		return
	}
	s.Kill()
	_ = g.Remove(s.ID)
}
