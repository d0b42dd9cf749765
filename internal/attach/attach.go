// Package attach implements the attachment (C6) of spec.md §4.6: a caller's
// handle bound to one station, the unit of quota, blocking, cancellation,
// and statistics.
//
// Grounded on the teacher's muxer.go quitableSleep/dieChan pattern (select
// on a timer versus a close-once channel to implement cooperative
// cancellation of a blocked goroutine) generalized into a reusable handle.
package attach

import (
	"sync"
	"sync/atomic"
)

// Attachment is the caller's identity for every pool operation (spec.md
// §3 "Attachment", §4.6). It satisfies station.Canceller.
type Attachment struct {
	ID        uint32
	ProcessID uint32
	StationID uint32
	Host      string // non-empty for remote attachments (spec.md §3)

	quitOnce sync.Once
	quitCh   chan struct{}
	quit     int32 // atomic bool mirror, for Quit()

	sleeping int32 // atomic bool

	mu                       sync.Mutex
	gotCount, putCount       uint64
	dumpedCount, madeCount   uint64
}

// New returns an unblocked attachment bound to stationID on behalf of
// processID.
func New(id, processID, stationID uint32, host string) *Attachment {
	return &Attachment{
		ID:        id,
		ProcessID: processID,
		StationID: stationID,
		Host:      host,
		quitCh:    make(chan struct{}),
	}
}

// Done implements station.Canceller: it returns a channel closed exactly
// once, when Wakeup is called (spec.md §4.6: "WAKEUP is returned exactly
// once per wake event per waiter").
func (a *Attachment) Done() <-chan struct{} { return a.quitCh }

// Wakeup sets the quit flag and closes Done's channel, unblocking any
// current or future wait on this attachment (spec.md §4.6
// "wakeup_attachment(att) sets the quit flag and broadcasts"). Safe to
// call more than once; only the first call has effect.
func (a *Attachment) Wakeup() {
	a.quitOnce.Do(func() {
		atomic.StoreInt32(&a.quit, 1)
		close(a.quitCh)
	})
}

// Quit reports whether this attachment has been woken (detach requested or
// system/process shutdown).
func (a *Attachment) Quit() bool { return atomic.LoadInt32(&a.quit) == 1 }

// SetSleeping/Sleeping track whether the caller is currently parked on a
// condvar, the state spec.md §4.6 calls the "sleep flag".
func (a *Attachment) SetSleeping(v bool) {
	if v {
		atomic.StoreInt32(&a.sleeping, 1)
	} else {
		atomic.StoreInt32(&a.sleeping, 0)
	}
}

func (a *Attachment) Sleeping() bool { return atomic.LoadInt32(&a.sleeping) == 1 }

// Blocked reports whether detach is currently forbidden (spec.md §4.6:
// "Detach requires the attachment to be unblocked").
func (a *Attachment) Blocked() bool { return a.Sleeping() && !a.Quit() }

func (a *Attachment) RecordGot(n int)    { a.mu.Lock(); a.gotCount += uint64(n); a.mu.Unlock() }
func (a *Attachment) RecordPut(n int)    { a.mu.Lock(); a.putCount += uint64(n); a.mu.Unlock() }
func (a *Attachment) RecordDumped(n int) { a.mu.Lock(); a.dumpedCount += uint64(n); a.mu.Unlock() }
func (a *Attachment) RecordMade(n int)   { a.mu.Lock(); a.madeCount += uint64(n); a.mu.Unlock() }

// Stats returns the per-attachment counters spec.md §3 records (got, put,
// dumped, made).
func (a *Attachment) Stats() (got, put, dumped, made uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gotCount, a.putCount, a.dumpedCount, a.madeCount
}

// Registry tracks every live attachment for a system, keyed by id, so that
// wakeup_all(station) (spec.md §4.6) and crash-recovery sweeps (spec.md
// §4.7) can enumerate the attachments of a given station or process.
type Registry struct {
	mu      sync.Mutex
	byID    map[uint32]*Attachment
	nextID  uint32
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Attachment), nextID: 1}
}

// Create allocates a fresh attachment id and registers it. Every open
// allocates a fresh slot (spec.md §9 open question resolution: "every open
// allocates a fresh process slot... closes must match opens").
func (r *Registry) Create(processID, stationID uint32, host string) *Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	a := New(id, processID, stationID, host)
	r.byID[id] = a
	return a
}

// Detach removes att from the registry. Legal only when att is not
// currently blocked (spec.md §4.6).
func (r *Registry) Detach(att *Attachment) error {
	if att.Blocked() {
		return errBlocked
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, att.ID)
	return nil
}

func (r *Registry) Lookup(id uint32) (*Attachment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	return a, ok
}

// ForStation returns every attachment currently bound to stationID, the
// set wakeup_all(station) wakes (spec.md §4.6).
func (r *Registry) ForStation(stationID uint32) []*Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Attachment
	for _, a := range r.byID {
		if a.StationID == stationID {
			out = append(out, a)
		}
	}
	return out
}

// ForProcess returns every attachment belonging to processID, the set the
// heartmonitor walks and restores when a client crashes (spec.md §4.7).
func (r *Registry) ForProcess(processID uint32) []*Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Attachment
	for _, a := range r.byID {
		if a.ProcessID == processID {
			out = append(out, a)
		}
	}
	return out
}

// WakeupAll wakes every attachment at stationID (spec.md §4.6
// "wakeup_all(station)").
func (r *Registry) WakeupAll(stationID uint32) {
	for _, a := range r.ForStation(stationID) {
		a.Wakeup()
	}
}

var errBlocked = &blockedError{}

type blockedError struct{}

func (*blockedError) Error() string { return "attach: cannot detach a blocked attachment" }
