// Package station implements the station (C3) and station graph (C4) of
// spec.md §4.3/§4.4: named filter stations with bounded input/output
// queues, arranged in a circular main ring with parallel sibling groups.
package station

import (
	"container/list"
	"context"
	"sync"

	"github.com/JeffersonLab/et-sub001/internal/event"
)

// Canceller is satisfied by an attachment: Done returns a channel that is
// closed exactly once, when the attachment's quit flag is set by detach or
// system shutdown (spec.md §4.6). Declaring the interface here rather than
// importing the attach package avoids a dependency cycle — any type with a
// Done method can block on a List.
type Canceller interface {
	Done() <-chan struct{}
}

// List is one of a station's two intrusive queues (input or output),
// protected by its own mutex and a pair of condvars, matching spec.md §4.3:
// "each protected by its own mutex and two condvars (non-empty, non-full)".
// Grounded on the teacher's muxer.go emergencyQueue, which queues entries
// in a container/list.List under a mutex rather than a hand-rolled linked
// list.
type List struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	nonFull  *sync.Cond
	items    *list.List
	lastHigh *list.Element // spec.md §4.3: HIGH events insert immediately after this, then it advances
	cue      int           // 0 means unbounded (no NONBLOCKING drop ceiling, no BLOCKING wait-for-space)

	tries, in, out uint64
}

// NewList returns an empty list with the given nonblocking cue bound (0 for
// unbounded, e.g. GrandCentral's input).
func NewList(cue int) *List {
	l := &List{items: list.New(), cue: cue}
	l.nonEmpty = sync.NewCond(&l.mu)
	l.nonFull = sync.NewCond(&l.mu)
	return l
}

// Count returns the current number of queued descriptors.
func (q *List) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Cue returns the configured nonblocking capacity bound (0 = unbounded).
func (q *List) Cue() int { return q.cue }

// Full reports whether the list is at or past its cue bound. Always false
// for an unbounded list.
func (q *List) Full() bool {
	if q.cue <= 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() >= q.cue
}

// Insert places d according to priority ordering (invariant iv, spec.md
// §3): HIGH events go in immediately after the last HIGH event already
// present (or at the front, if none), LOW events are appended. Insertion
// order within a priority class is preserved (invariant iv, I2).
func (q *List) Insert(d *event.Descriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insertLocked(d)
	q.in++
	if q.items.Len() == 1 {
		q.nonEmpty.Broadcast() // edge-signal the empty->nonempty transition
	}
}

func (q *List) insertLocked(d *event.Descriptor) {
	if d.Priority == event.High {
		var e *list.Element
		if q.lastHigh != nil {
			e = q.items.InsertAfter(d, q.lastHigh)
		} else {
			e = q.items.PushFront(d)
		}
		q.lastHigh = e
		return
	}
	q.items.PushBack(d)
}

// Pop removes and returns the head of the list, or ok=false if empty.
func (q *List) Pop() (d *event.Descriptor, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *List) popLocked() (*event.Descriptor, bool) {
	e := q.items.Front()
	if e == nil {
		return nil, false
	}
	wasFull := q.cue > 0 && q.items.Len() >= q.cue
	if e == q.lastHigh {
		q.lastHigh = nil
	}
	q.items.Remove(e)
	q.out++
	if wasFull {
		q.nonFull.Broadcast() // edge-signal crossing back under the cue bound
	}
	return e.Value.(*event.Descriptor), true
}

// PopN removes up to n descriptors, returning fewer only if the list is
// drained first.
func (q *List) PopN(n int) []*event.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*event.Descriptor, 0, n)
	for i := 0; i < n; i++ {
		d, ok := q.popLocked()
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out
}

// TryPop attempts a nonblocking pop, distinguishing EMPTY (lock acquired,
// nothing queued) from BUSY (lock contended) the way spec.md §4.2 requires
// ASYNC-mode new/get to: "Fails with EMPTY (nonblocking, none available),
// BUSY (nonblocking, lock contended)".
func (q *List) TryPop() (*event.Descriptor, error) {
	if !q.mu.TryLock() {
		return nil, event.ErrBusy
	}
	defer q.mu.Unlock()
	q.tries++
	d, ok := q.popLocked()
	if !ok {
		return nil, event.ErrEmpty
	}
	return d, nil
}

// Counters returns the tries/in/out statistics spec.md §3 records per list.
func (q *List) Counters() (tries, in, out uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tries, q.in, q.out
}

// Wait blocks until the list is non-empty, ctx is done, or cancel fires,
// implementing the four-step protocol of spec.md §4.6:
//  1. lock (held internally across the whole wait)
//  2. while empty and not cancelled, wait on the condvar
//  3. on wake, re-check cancellation; if set, return WAKEUP/context error
//  4. otherwise pop and return
func (q *List) Wait(ctx context.Context, cancel Canceller) (*event.Descriptor, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-cancel.Done():
		case <-stop:
			return
		}
		q.mu.Lock()
		q.nonEmpty.Broadcast()
		q.mu.Unlock()
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tries++
	for q.items.Len() == 0 {
		select {
		case <-ctx.Done():
			return nil, event.ErrTimeout
		case <-cancel.Done():
			return nil, event.ErrWakeup
		default:
		}
		q.nonEmpty.Wait()
	}
	d, _ := q.popLocked()
	return d, nil
}

// WaitNonFull blocks until the list has room under its cue bound, ctx is
// done, or cancel fires. Used by the conductor's BLOCKING insertion path
// (spec.md §4.3: "BLOCKING: the conductor waits on non-full before
// inserting").
func (q *List) WaitNonFull(ctx context.Context, cancel Canceller) error {
	if q.cue <= 0 {
		return nil
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-cancel.Done():
		case <-stop:
			return
		}
		q.mu.Lock()
		q.nonFull.Broadcast()
		q.mu.Unlock()
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() >= q.cue {
		select {
		case <-ctx.Done():
			return event.ErrTimeout
		case <-cancel.Done():
			return event.ErrWakeup
		default:
		}
		q.nonFull.Wait()
	}
	return nil
}
