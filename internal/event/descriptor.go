package event

import "math"

// Priority controls insertion position within a station list (spec.md §3
// invariant iv and §4.3).
type Priority uint8

const (
	Low Priority = iota
	High
)

// Age distinguishes an event fresh out of GrandCentral from one that has
// already been around the ring at least once.
type Age uint8

const (
	New Age = iota
	Used
)

// Owner tags the entity currently holding an event: the system itself
// (sitting in a station list), a station (queued but not yet handed to an
// attachment), an attachment (checked out via get/new), or a TEMP file that
// has not yet been reunited with GrandCentral.
type Owner uint8

const (
	OwnerSystem Owner = iota
	OwnerStation
	OwnerAttachment
	OwnerTemp
)

// Modify bit-mask flags, recorded at get time so a subsequent put over the
// network (spec.md §4.2, §6) only ships the fields the caller actually
// touched.
const (
	ModifyNone       uint8 = 0
	ModifyLength     uint8 = 1 << 0
	ModifyPriority   uint8 = 1 << 1
	ModifyControl    uint8 = 1 << 2
	ModifyByteOrder  uint8 = 1 << 3
	ModifyData       uint8 = 1 << 4
)

// NilOffset is the sentinel "null" offset (spec.md §9 design note: "use
// sentinel offsets, e.g. all-ones, for null") used for next-pointers and
// data pointers that do not refer to anything.
const NilOffset uint64 = math.MaxUint64

// SelectInts is the fixed-width control array carried by both an event and
// a MATCH-mode station's select configuration (spec.md §4.3, glossary).
type SelectInts []int32

// Descriptor is the fixed-size event slot record (spec.md §3 "Event
// descriptor"). Next is an offset into the backing map's event table used
// to thread the descriptor onto whichever intrusive list currently owns it;
// DataOffset is an offset into the data region, ignored when TempPath is
// non-empty.
type Descriptor struct {
	Place       uint32 // stable slot index, immutable for the life of the system
	Owner       Owner
	OwnerID     uint32 // station id or attachment id, meaning depends on Owner
	Next        uint64 // offset, NilOffset if not currently queued
	DataOffset  uint64 // offset into the data region
	TempPath    string // non-empty iff this is a TEMP event (invariant v)
	Length      uint32
	Capacity    uint32
	Priority    Priority
	Age         Age
	BigEndian   bool
	Group       uint16 // immutable after creation (invariant iii)
	Modify      uint8  // bit-mask, see Modify* consts
	Control     SelectInts
}

// IsTemp reports whether this descriptor's payload lives in an auxiliary
// file rather than the data region (invariant v).
func (d *Descriptor) IsTemp() bool { return d.TempPath != "" }

// Validate checks the structural invariants spec.md §3 requires of every
// descriptor: length never exceeds capacity (invariant ii) and the group
// falls within the configured range (invariant iii).
func (d *Descriptor) Validate(groupCount uint16) error {
	if d.Length > d.Capacity {
		return ErrBadArgument
	}
	if groupCount > 0 && (d.Group == 0 || d.Group > groupCount) {
		return ErrBadArgument
	}
	return nil
}

// MatchSelect implements the MATCH filter comparison of spec.md §4.3: a
// station's select int at position i either matches the event's control
// int at i, or is wild (-1).
func MatchSelect(selects SelectInts, d *Descriptor) bool {
	for i, s := range selects {
		if s == -1 {
			continue
		}
		if i >= len(d.Control) || d.Control[i] != s {
			return false
		}
	}
	return true
}
