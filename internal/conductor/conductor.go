// Package conductor implements the per-station conductor thread (C5,
// spec.md §4.5): drains a station's output queue into the next station's
// input queue, applying the downstream station's filter and the parallel
// group's distribution policy.
//
// Grounded on the teacher's muxer.go connRoutine/writeRelayRoutine pair: a
// goroutine loop that repeatedly drains a queue, retries on backpressure,
// and exits cleanly on a close-once signal channel.
package conductor

import (
	"context"
	"sync"

	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/JeffersonLab/et-sub001/internal/station"
)

// localCanceller adapts a plain channel to station.Canceller for the
// conductor's own blocking waits, which are not tied to any attachment.
type localCanceller struct{ ch chan struct{} }

func (c *localCanceller) Done() <-chan struct{} { return c.ch }

// Conductor drains one station's output list onto its downstream target(s).
type Conductor struct {
	graph    *station.Graph
	self     *station.Station
	systemID uint32

	stop chan struct{}
	done chan struct{}
}

// New returns a conductor for self. Run must be started in its own
// goroutine.
func New(graph *station.Graph, self *station.Station, systemID uint32) *Conductor {
	return &Conductor{
		graph:    graph,
		self:     self,
		systemID: systemID,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Stop requests the loop exit once the output list drains, matching
// spec.md §4.5: "on KILL the loop exits after draining its output list."
// It blocks until the loop has actually returned.
func (c *Conductor) Stop() {
	c.self.Kill()
	close(c.stop)
	<-c.done
}

// Run is the conductor's main loop (spec.md §4.5). It must be called from
// its own goroutine; it returns once the station is killed and its output
// list is empty.
func (c *Conductor) Run(ctx context.Context) {
	defer close(c.done)
	canceller := &localCanceller{ch: c.stop}

	for {
		d, err := c.self.Output.Wait(ctx, canceller)
		if err != nil {
			if c.self.Killed() && c.self.Output.Count() == 0 {
				return
			}
			select {
			case <-c.stop:
				if c.self.Output.Count() == 0 {
					return
				}
			default:
			}
			continue
		}
		c.deliver(d)
	}
}

// deliver locates the downstream target (spec.md §4.5), evaluates its
// filter, and on accept inserts per the target's blocking/nonblocking
// policy; on reject the event is dumped to GrandCentral, matching scenario
// 2 of spec.md §8 ("the middle is dumped to GC and reappears there with
// owner reset").
func (c *Conductor) deliver(d *event.Descriptor) {
	next := c.graph.Next(c.self)
	target := c.graph.PickSibling(next)
	if target == nil {
		// every sibling full under round-robin: fall back to GrandCentral
		// rather than lose the event.
		c.dumpToGC(d)
		return
	}

	if !target.Accept(c.systemID, d) {
		c.dumpToGC(d)
		return
	}

	if target.Config.Blocking == station.Blocking {
		if ok := c.admitWithPrescale(target, d); !ok {
			return
		}
		_ = target.Input.WaitNonFull(context.Background(), &localCanceller{ch: c.stop})
		d.Owner = event.OwnerStation
		d.OwnerID = target.ID
		target.Input.Insert(d)
		return
	}

	// NONBLOCKING: drop per restore policy once the cue bound is hit
	// (spec.md §4.3).
	if target.Input.Full() {
		c.restore(target, d)
		return
	}
	d.Owner = event.OwnerStation
	d.OwnerID = target.ID
	target.Input.Insert(d)
}

var prescaleMu sync.Mutex
var prescaleCounters = map[uint32]int{}

// admitWithPrescale implements the 1-in-N gate of spec.md §4.3: "prescale
// applies (only 1 in N matching events is kept; others skip to output,
// bypass, or drop per restore policy)." Returns false if this event was
// the one skipped.
func (c *Conductor) admitWithPrescale(target *station.Station, d *event.Descriptor) bool {
	n := target.Config.Prescale
	if n <= 1 {
		return true
	}
	prescaleMu.Lock()
	prescaleCounters[target.ID]++
	count := prescaleCounters[target.ID]
	prescaleMu.Unlock()
	if count%n == 0 {
		return true
	}
	c.restore(target, d)
	return false
}

// restore applies a rejected/dropped/skipped event's target restore policy
// (spec.md §4.3, glossary "Restore mode").
func (c *Conductor) restore(target *station.Station, d *event.Descriptor) {
	switch target.Config.Restore {
	case station.RestoreToOutput:
		d.Owner = event.OwnerStation
		d.OwnerID = target.ID
		target.Output.Insert(d)
	case station.RestoreRedistribute:
		if sib := c.graph.PickSibling(target); sib != nil && sib != target {
			d.Owner = event.OwnerStation
			d.OwnerID = sib.ID
			sib.Input.Insert(d)
			return
		}
		c.dumpToGC(d)
	default: // RestoreToInput, RestoreToGrandCentral, and the default fallback
		c.dumpToGC(d)
	}
}

func (c *Conductor) dumpToGC(d *event.Descriptor) {
	gc := c.graph.GrandCentral()
	d.Owner = event.OwnerSystem
	d.OwnerID = station.GrandCentralID
	d.Modify = event.ModifyNone
	gc.Input.Insert(d)
}
