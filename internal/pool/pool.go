// Package pool implements the event pool and ownership registry (C2,
// spec.md §4.2): new/new-group, get, put, and dump over the station
// graph's queues, plus the one-time creation of the fixed event array at
// system start.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/JeffersonLab/et-sub001/internal/tempstore"
)

// Pool owns the fixed event array and exposes new/get/put/dump against a
// station graph.
type Pool struct {
	graph      *station.Graph
	atts       *attach.Registry
	temps      *tempstore.Store
	capacity   uint32
	groupCount uint16

	mu          sync.Mutex
	nextPlace   uint32
	outstanding map[uint32]map[*event.Descriptor]struct{} // attachment id -> checked-out descriptors, for crash restoration
}

// New returns a pool bound to graph and atts; cap is the per-event data
// region capacity configured at system start, groupCount the configured
// number of groups (spec.md §3 invariant iii).
func New(graph *station.Graph, atts *attach.Registry, temps *tempstore.Store, cap uint32, groupCount uint16) *Pool {
	return &Pool{
		graph:       graph,
		atts:        atts,
		temps:       temps,
		capacity:    cap,
		groupCount:  groupCount,
		outstanding: make(map[uint32]map[*event.Descriptor]struct{}),
	}
}

func (p *Pool) track(attID uint32, d *event.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.outstanding[attID]
	if !ok {
		set = make(map[*event.Descriptor]struct{})
		p.outstanding[attID] = set
	}
	set[d] = struct{}{}
}

func (p *Pool) untrack(attID uint32, d *event.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.outstanding[attID]; ok {
		delete(set, d)
		if len(set) == 0 {
			delete(p.outstanding, attID)
		}
	}
}

// RestoreAttachment reclaims every event still checked out to att — events
// drawn via new/get but never put or dumped — and returns them to att's
// station per that station's restore policy (spec.md §4.7: "the dying
// process's checked-out events are returned... per each station's restore
// mode"). It reports how many events were reclaimed.
func (p *Pool) RestoreAttachment(att *attach.Attachment) int {
	p.mu.Lock()
	held := p.outstanding[att.ID]
	delete(p.outstanding, att.ID)
	p.mu.Unlock()
	if len(held) == 0 {
		return 0
	}

	s, ok := p.graph.Lookup(att.StationID)
	if !ok {
		s = p.graph.GrandCentral()
	}
	gc := p.graph.GrandCentral()
	n := 0
	for d := range held {
		d.Owner = event.OwnerStation
		switch s.Config.Restore {
		case station.RestoreToOutput:
			d.OwnerID = s.ID
			s.Output.Insert(d)
		case station.RestoreToGrandCentral:
			d.OwnerID = station.GrandCentralID
			if d.IsTemp() {
				if h, err := tempstore.Open(d.TempPath); err == nil {
					_ = h.Release()
				}
				d.TempPath = ""
				d.Owner = event.OwnerSystem
			}
			gc.Input.Insert(d)
		default: // RestoreToInput, RestoreRedistribute
			d.OwnerID = s.ID
			s.Input.Insert(d)
		}
		n++
	}
	return n
}

// Init creates n fresh descriptors, all owned by the system and grouped
// evenly over the configured groups, and places them on GrandCentral's
// input (spec.md §3: "Events are created once at system start and never
// freed").
func (p *Pool) Init(n int) {
	gc := p.graph.GrandCentral()
	for i := 0; i < n; i++ {
		d := &event.Descriptor{
			Place:    atomic.AddUint32(&p.nextPlace, 1) - 1,
			Owner:    event.OwnerSystem,
			Capacity: p.capacity,
			Group:    p.groupFor(i),
			Next:     event.NilOffset,
			Control:  make(event.SelectInts, 0),
		}
		gc.Input.Insert(d)
	}
}

func (p *Pool) groupFor(i int) uint16 {
	if p.groupCount == 0 {
		return 1
	}
	return uint16(i%int(p.groupCount)) + 1
}

// New allocates up to count events from GrandCentral's input, each of at
// least size bytes and drawn from group if group != 0 (spec.md §4.2). If
// size exceeds the pool's configured capacity, a TEMP event is minted
// instead of drawing from the fixed array (invariant v).
func (p *Pool) New(ctx context.Context, att *attach.Attachment, size uint32, count int, group uint16, mode Mode) ([]*event.Descriptor, error) {
	if att == nil || count <= 0 {
		return nil, event.ErrBadArgument
	}
	if size > p.capacity {
		return p.newTemp(att, size, count, group)
	}

	gc := p.graph.GrandCentral()
	out := make([]*event.Descriptor, 0, count)
	var skipped []*event.Descriptor
	defer func() {
		for _, d := range skipped {
			gc.Input.Insert(d)
		}
	}()

	for len(out) < count {
		d, err := p.take(ctx, att, gc.Input, mode)
		if err != nil {
			for _, got := range out {
				gc.Input.Insert(got) // all-or-nothing: put back what we already pulled
			}
			return nil, err
		}
		if group != 0 && d.Group != group {
			skipped = append(skipped, d)
			continue
		}
		d.Owner = event.OwnerAttachment
		d.OwnerID = att.ID
		d.Age = event.Used
		d.Modify = event.ModifyNone
		p.track(att.ID, d)
		out = append(out, d)
	}
	att.RecordMade(len(out))
	return out, nil
}

func (p *Pool) newTemp(att *attach.Attachment, size uint32, count int, group uint16) ([]*event.Descriptor, error) {
	out := make([]*event.Descriptor, 0, count)
	for i := 0; i < count; i++ {
		h, err := p.temps.Create(size)
		if err != nil {
			return nil, event.ErrOutOfMemory
		}
		out = append(out, &event.Descriptor{
			Place:    atomic.AddUint32(&p.nextPlace, 1) - 1,
			Owner:    event.OwnerAttachment,
			OwnerID:  att.ID,
			Capacity: size,
			Group:    group,
			TempPath: h.Path,
			Next:     event.NilOffset,
			Control:  make(event.SelectInts, 0),
		})
		p.track(att.ID, out[len(out)-1])
	}
	att.RecordMade(len(out))
	return out, nil
}

// Get removes up to count events from the caller's station's input queue,
// HIGH before LOW, FIFO within class (spec.md §4.2).
func (p *Pool) Get(ctx context.Context, att *attach.Attachment, count int, mode Mode) ([]*event.Descriptor, error) {
	if att == nil || count <= 0 {
		return nil, event.ErrBadArgument
	}
	s, ok := p.graph.Lookup(att.StationID)
	if !ok {
		return nil, event.ErrBadArgument
	}
	out := make([]*event.Descriptor, 0, count)
	for len(out) < count {
		d, err := p.take(ctx, att, s.Input, mode)
		if err != nil {
			for _, got := range out {
				s.Input.Insert(got)
			}
			return nil, err
		}
		d.Owner = event.OwnerAttachment
		d.OwnerID = att.ID
		p.track(att.ID, d)
		out = append(out, d)
	}
	att.RecordGot(len(out))
	return out, nil
}

func (p *Pool) take(ctx context.Context, att *attach.Attachment, list *station.List, mode Mode) (*event.Descriptor, error) {
	if !att.Quit() {
		// fast path mirrors ASYNC semantics even for blocking modes: try
		// first so a readily available event never pays the goroutine
		// setup cost of Wait.
		if d, err := list.TryPop(); err == nil {
			return d, nil
		} else if mode.Kind == Async {
			return nil, err
		}
	} else {
		return nil, event.ErrWakeup
	}

	cctx, cancel := mode.context(ctx)
	defer cancel()
	att.SetSleeping(true)
	defer att.SetSleeping(false)
	return list.Wait(cctx, att)
}

// Put transfers events to the caller's station's output queue, validating
// ownership and length <= capacity, and resetting the owner tag to the
// station (spec.md §4.2). The conductor moves them onward from there.
func (p *Pool) Put(att *attach.Attachment, events []*event.Descriptor) error {
	return p.release(att, events, false)
}

// Dump targets GrandCentral's input directly, bypassing further filtering;
// TEMP events are released on arrival (spec.md §4.2, invariant v).
func (p *Pool) Dump(att *attach.Attachment, events []*event.Descriptor) error {
	return p.release(att, events, true)
}

func (p *Pool) release(att *attach.Attachment, events []*event.Descriptor, toGrandCentral bool) error {
	if att == nil {
		return event.ErrBadArgument
	}
	// validate the whole batch before mutating anything: put/dump are
	// all-or-nothing (spec.md §7).
	for _, d := range events {
		if d.Owner != event.OwnerAttachment || d.OwnerID != att.ID {
			return event.ErrBadArgument
		}
		if err := d.Validate(p.groupCount); err != nil {
			return err
		}
	}

	var target *station.List
	var targetStationID uint32
	if toGrandCentral {
		target = p.graph.GrandCentral().Input
		targetStationID = station.GrandCentralID
	} else {
		s, ok := p.graph.Lookup(att.StationID)
		if !ok {
			return event.ErrBadArgument
		}
		target = s.Output
		targetStationID = s.ID
	}

	for _, d := range events {
		p.untrack(att.ID, d)
		d.Owner = event.OwnerStation
		d.OwnerID = targetStationID
		if toGrandCentral {
			if d.IsTemp() {
				if h, err := tempstore.Open(d.TempPath); err == nil {
					_ = h.Release()
				}
				d.TempPath = ""
			}
			d.Owner = event.OwnerSystem
		}
		target.Insert(d)
	}
	if toGrandCentral {
		att.RecordDumped(len(events))
	} else {
		att.RecordPut(len(events))
	}
	return nil
}
