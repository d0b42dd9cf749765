package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/backing"
	"github.com/JeffersonLab/et-sub001/internal/pool"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/JeffersonLab/et-sub001/internal/tempstore"
	"github.com/stretchr/testify/require"
)

func testSystem(t *testing.T) *backing.System {
	t.Helper()
	sys, err := backing.Create(t.TempDir()+"/sys.et", backing.Config{
		NEvents:      4,
		EventCap:     32,
		NStations:    4,
		NTemps:       2,
		NAttachments: 4,
		NProcesses:   4,
		GroupCounts:  []uint32{4},
		TickHz:       10,
		HostName:     "localhost",
	})
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestHeartbeatAdvancesTable(t *testing.T) {
	sys := testSystem(t)
	table := NewTable()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Heartbeat(ctx, sys, table, 7, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		table.mu.Lock()
		defer table.mu.Unlock()
		r, ok := table.records[7]
		return ok && !r.neverBeat && r.lastBeat > 0
	}, time.Second, time.Millisecond)
}

func TestMonitorRestoresDeadProcessEvents(t *testing.T) {
	sys := testSystem(t)
	g := station.NewGraph()
	atts := attach.NewRegistry()
	ts := tempstore.New(t.TempDir(), "testsys")
	p := pool.New(g, atts, ts, 32, 1)
	p.Init(4)

	att := atts.Create(42, station.GrandCentralID, "")
	got, err := p.New(context.Background(), att, 32, 2, 0, pool.SleepMode())
	require.NoError(t, err)
	require.Len(t, got, 2)

	table := NewTable()
	table.Register(42)
	// simulate a process that beat once, then stalled.
	table.beat(42, 1)

	mon := NewMonitor(sys, table, atts, g, p)
	for i := 0; i < missedTicksDead; i++ {
		mon.sweep()
	}

	require.Equal(t, 4, g.GrandCentral().Input.Count(), "reclaimed events must return to GrandCentral")
	_, stillRegistered := atts.Lookup(att.ID)
	require.False(t, stillRegistered, "dead process's attachment must be detached")
}

func TestMonitorNeverDeclaresBeforeFirstBeat(t *testing.T) {
	table := NewTable()
	table.Register(9)

	mon := &Monitor{table: table}
	for i := 0; i < missedTicksDead+2; i++ {
		dead := mon.deadProcesses()
		require.Empty(t, dead)
	}
}

func TestMonitorStopsSweepingWhenKilled(t *testing.T) {
	sys := testSystem(t)
	sys.Kill()
	table := NewTable()
	mon := NewMonitor(sys, table, attach.NewRegistry(), station.NewGraph(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx, time.Millisecond)
		close(done)
	}()
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after observing the kill flag")
	}
}
