// Package fifo implements the FIFO facade (C9, spec.md §4.9): the pool
// reinterpreted as E = events/K fixed-width entries, each a bundle of K
// events sharing a group, with per-event id in control[0] and a has-data
// flag in control[1].
//
// Grounded on the teacher's entry_buff.go EntryBlock, which also treats a
// flat event-style buffer as a ring of fixed-width entries handed out
// atomically and tracked by an id the caller supplies up front.
package fifo

import (
	"context"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/JeffersonLab/et-sub001/internal/pool"
	"github.com/JeffersonLab/et-sub001/internal/station"
)

// control[1] values for the has-data flag (spec.md §4.9: "a has-data flag
// in control[1]").
const (
	hasDataUnset int32 = 0
	hasDataSet   int32 = 1
)

// unusedID marks a control[0] slot not yet claimed by any producer id
// (spec.md §4.9: "the rest to -1").
const unusedID int32 = -1

var (
	// ErrShortEntry is returned when fewer than K events came back from
	// new/get (spec.md §4.9: "failing with ERROR if fewer are returned").
	ErrShortEntry = event.ErrGeneric
	ErrNoSuchID   = event.ErrBadArgument
)

// usersStationName is the dedicated consumer-side station the facade
// creates on first OpenConsumer call (spec.md §4.9 "Users station").
const usersStationName = "FIFO_USERS"

// Facade reinterprets a pool as E entries of width K.
type Facade struct {
	pool  *pool.Pool
	graph *station.Graph
	atts  *attach.Registry

	nEvents int
	k       uint16 // entry width, the uniform group size
}

// New returns a facade over p/g/atts. nEvents is the total event count the
// pool was initialized with; k is the uniform group size (spec.md §4.9:
// "E = events / K entries of width K").
func New(p *pool.Pool, g *station.Graph, atts *attach.Registry, nEvents int, k uint16) *Facade {
	return &Facade{pool: p, graph: g, atts: atts, nEvents: nEvents, k: k}
}

// entries returns E, the configured entry count.
func (f *Facade) entries() int {
	if f.k == 0 {
		return 0
	}
	return f.nEvents / int(f.k)
}

// usersCap computes E - max(2, E/20), the Users station's nonblocking
// input capacity (spec.md §4.9), expressed in events rather than entries
// since station cues are event counts.
func (f *Facade) usersCap() int {
	e := f.entries()
	reserve := e / 20
	if reserve < 2 {
		reserve = 2
	}
	capEntries := e - reserve
	if capEntries < 0 {
		capEntries = 0
	}
	return capEntries * int(f.k)
}

// OpenProducer attaches to GrandCentral and returns an attachment a
// subsequent NewEntry call draws through (spec.md §4.9 "open-producer").
func (f *Facade) OpenProducer(processID uint32, ids []int32) (*attach.Attachment, error) {
	if len(ids) > int(f.k) {
		return nil, event.ErrBadArgument
	}
	return f.atts.Create(processID, station.GrandCentralID, ""), nil
}

// OpenConsumer attaches processID to the Users station, creating it on
// first use with the nonblocking capacity spec.md §4.9 requires.
func (f *Facade) OpenConsumer(processID uint32) (*attach.Attachment, error) {
	s, ok := f.graph.LookupByName(usersStationName)
	if !ok {
		var err error
		s, err = f.graph.Create(usersStationName, station.Config{
			Select:   station.SelectAll,
			Blocking: station.NonBlocking,
			Cue:      f.usersCap(),
		})
		if err != nil {
			return nil, err
		}
	}
	att := f.atts.Create(processID, s.ID, "")
	s.AddAttachment(att.ID)
	return att, nil
}

// NewEntry draws exactly K events and pre-labels them per ids (spec.md
// §4.9 "open-producer... each entry handed out has its first idCount
// events' first control int preinitialized to the corresponding id and the
// rest to -1; length fields are zeroed").
func (f *Facade) NewEntry(ctx context.Context, att *attach.Attachment, group uint16, ids []int32, mode pool.Mode) ([]*event.Descriptor, error) {
	got, err := f.pool.New(ctx, att, 0, int(f.k), group, mode)
	if err != nil {
		return nil, err
	}
	if len(got) != int(f.k) {
		return nil, ErrShortEntry
	}
	for i, d := range got {
		d.Length = 0
		ctrl := make(event.SelectInts, 2)
		if i < len(ids) {
			ctrl[0] = ids[i]
		} else {
			ctrl[0] = unusedID
		}
		ctrl[1] = hasDataUnset
		d.Control = ctrl
	}
	return got, nil
}

// GetEntry removes exactly K events from the caller's station input
// (spec.md §4.9 "get-entry").
func (f *Facade) GetEntry(ctx context.Context, att *attach.Attachment, mode pool.Mode) ([]*event.Descriptor, error) {
	got, err := f.pool.Get(ctx, att, int(f.k), mode)
	if err != nil {
		return nil, err
	}
	if len(got) != int(f.k) {
		return nil, ErrShortEntry
	}
	return got, nil
}

// PutEntry releases the whole K-tuple (spec.md §4.9 "put-entry returns the
// whole K-tuple").
func (f *Facade) PutEntry(att *attach.Attachment, entry []*event.Descriptor) error {
	return f.pool.Put(att, entry)
}

// MarkHasData sets d's has-data flag (control[1]), the bookkeeping a
// producer performs after writing a payload into one event of an entry.
func MarkHasData(d *event.Descriptor) {
	if len(d.Control) < 2 {
		grown := make(event.SelectInts, 2)
		copy(grown, d.Control)
		d.Control = grown
	}
	d.Control[1] = hasDataSet
}

// AllHaveData reports whether every event in entry has its has-data flag
// set, and how many do not (spec.md §4.9 "all-have-data(entry)"). An
// unlabelled slot (control[0] == -1) never gets a payload and therefore
// never gets its has-data flag set either, so it counts toward
// incompleteBufs exactly like a labelled slot a producer hasn't filled yet
// (spec.md §8 scenario 5: K=5 with only 3 of 5 slots labelled still reports
// `all-have-data = false, incompleteBufs = 2`).
func AllHaveData(entry []*event.Descriptor) (complete bool, incompleteBufs int) {
	complete = true
	for _, d := range entry {
		if len(d.Control) < 2 || d.Control[1] != hasDataSet {
			complete = false
			incompleteBufs++
		}
	}
	return complete, incompleteBufs
}

// GetBuf returns the event in entry whose control[0] equals id. If none
// matches and an unused (-1) slot exists, GetBuf claims that slot by
// writing id into it (spec.md §4.9 "get-buf"). Not thread-safe by design;
// the caller must serialize calls against the same entry.
func GetBuf(entry []*event.Descriptor, id int32) (*event.Descriptor, error) {
	var free *event.Descriptor
	for _, d := range entry {
		if len(d.Control) < 1 {
			continue
		}
		if d.Control[0] == id {
			return d, nil
		}
		if free == nil && d.Control[0] == unusedID {
			free = d
		}
	}
	if free == nil {
		return nil, ErrNoSuchID
	}
	free.Control[0] = id
	return free, nil
}

// FillLevel reads the Users station's input count (spec.md §4.9: "Fill
// level is obtained by reading the Users station's input count").
func (f *Facade) FillLevel() int {
	s, ok := f.graph.LookupByName(usersStationName)
	if !ok {
		return 0
	}
	return s.Input.Count()
}
