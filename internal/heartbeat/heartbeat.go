// Package heartbeat implements the heartbeat and heartmonitor threads of
// spec.md §4.7: every attached process beats a per-process counter on a
// fixed tick, and a monitor sweeps those counters, declaring a process dead
// once it misses enough consecutive ticks and restoring whatever events it
// held.
//
// Grounded on the teacher's gravwell_log.go/ingestConnection.go keepalive
// pattern — a ticker-driven goroutine paired with a watchdog that declares
// a peer dead after missing N consecutive beats — generalized from one TCP
// connection to every attached process sharing a backing system.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/backing"
	"github.com/JeffersonLab/et-sub001/internal/pool"
	"github.com/JeffersonLab/et-sub001/internal/station"
)

// missedTicksDead is how many consecutive missed ticks the monitor tolerates
// before declaring a process dead (spec.md §4.7: "missing more than a
// configured number of consecutive ticks marks the process dead").
const missedTicksDead = 3

// processRecord is the monitor's per-process bookkeeping: the last beat
// value observed and how many sweeps have passed without it changing.
type processRecord struct {
	lastBeat uint64
	missed   int
	// neverBeat marks a process that registered but has not yet completed
	// even one tick; spec.md §4.7 and the original et_local.c both special-
	// case this so a process is never declared dead mid-startup before its
	// first beat lands.
	neverBeat bool
}

// Table tracks every attached process's own heartbeat counter, independent
// of backing.System.Beat (which counts only this process's own beats); the
// monitor reads Table to judge every *other* process sharing the system.
type Table struct {
	mu      sync.Mutex
	records map[uint32]*processRecord
}

// NewTable returns an empty process table.
func NewTable() *Table {
	return &Table{records: make(map[uint32]*processRecord)}
}

// Register adds processID to the table with its first-seen state
// (spec.md §9 open question resolution: "every open allocates a fresh
// process slot").
func (t *Table) Register(processID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[processID] = &processRecord{neverBeat: true}
}

// Unregister drops processID (clean detach of the last attachment on that
// process, or the monitor's own cleanup after declaring it dead).
func (t *Table) Unregister(processID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, processID)
}

// beat is called by this process's own heartbeat goroutine once per tick.
func (t *Table) beat(processID uint32, value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[processID]
	if !ok {
		r = &processRecord{}
		t.records[processID] = r
	}
	r.lastBeat = value
	r.missed = 0
	r.neverBeat = false
}

// Heartbeat runs processID's own beat goroutine: once per tick it bumps
// sys's heartbeat counter and records the new value into table, until ctx
// is cancelled (process shutdown) (spec.md §4.7 "Heartbeat").
func Heartbeat(ctx context.Context, sys *backing.System, table *Table, processID uint32, tick time.Duration) {
	table.Register(processID)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			table.Unregister(processID)
			return
		case <-ticker.C:
			v := sys.Beat()
			table.beat(processID, v)
		}
	}
}

// RestoreFunc is the shape of a callback that reclaims every event held by
// processID's attachments and reports how many it reclaimed. Monitor does
// not take one: it calls pool.RestoreAttachment directly.
type RestoreFunc func(processID uint32) int

// Monitor sweeps table at sweepInterval; any process whose beat counter has
// not advanced for missedTicksDead consecutive sweeps is declared dead: its
// held events are restored and its station auto-removed if eligible
// (spec.md §4.7: "the dying process's checked-out events are returned...
// a station with no remaining attachments may also be auto-removed").
type Monitor struct {
	sys   *backing.System
	table *Table
	atts  *attach.Registry
	graph *station.Graph
	pool  *pool.Pool
}

// NewMonitor returns a monitor bound to the given system-wide collaborators.
func NewMonitor(sys *backing.System, table *Table, atts *attach.Registry, graph *station.Graph, p *pool.Pool) *Monitor {
	return &Monitor{sys: sys, table: table, atts: atts, graph: graph, pool: p}
}

// Run sweeps on sweepInterval until ctx is cancelled. It must be started in
// its own goroutine.
func (m *Monitor) Run(ctx context.Context, sweepInterval time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.sys.Alive() {
				// spec.md §4.7: "when [the kill bit] is set, the system
				// heartbeat thread stops beating and unmaps" — the monitor
				// stops sweeping for the same reason.
				return
			}
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	dead := m.deadProcesses()
	for _, pid := range dead {
		m.table.mu.Lock()
		delete(m.table.records, pid)
		m.table.mu.Unlock()
		m.restore(pid)
	}
}

func (m *Monitor) deadProcesses() []uint32 {
	m.table.mu.Lock()
	defer m.table.mu.Unlock()
	var dead []uint32
	for pid, r := range m.table.records {
		if r.neverBeat {
			continue // never declare a process dead before its first beat
		}
		r.missed++
		if r.missed >= missedTicksDead {
			dead = append(dead, pid)
		}
	}
	return dead
}

// restore wakes and reclaims every attachment belonging to pid, then
// auto-removes any SINGLE-user station left with no attachments
// (spec.md §4.7).
func (m *Monitor) restore(pid uint32) {
	atts := m.atts.ForProcess(pid)
	touched := make(map[uint32]*station.Station)
	for _, att := range atts {
		att.Wakeup()
		m.pool.RestoreAttachment(att)
		if s, ok := m.graph.Lookup(att.StationID); ok {
			touched[s.ID] = s
		}
		_ = m.atts.Detach(att)
	}
	for _, s := range touched {
		m.graph.MaybeAutoRemove(s)
	}
}
