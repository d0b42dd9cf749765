package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/stretchr/testify/require"
)

func newDescriptor(group uint16) *event.Descriptor {
	return &event.Descriptor{
		Owner:   event.OwnerStation,
		Group:   group,
		Next:    event.NilOffset,
		Control: make(event.SelectInts, 0),
	}
}

func TestConductorDeliversToNextStation(t *testing.T) {
	g := station.NewGraph()
	gc := g.GrandCentral()
	s1, err := g.Create("s1", station.Config{Select: station.SelectAll})
	require.NoError(t, err)

	c := New(g, gc, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	d := newDescriptor(0)
	gc.Output.Insert(d)

	require.Eventually(t, func() bool {
		return s1.Input.Count() == 1
	}, time.Second, time.Millisecond)
}

func TestConductorDumpsToGrandCentralOnReject(t *testing.T) {
	g := station.NewGraph()
	gc := g.GrandCentral()
	_, err := g.Create("s1", station.Config{Select: station.SelectMatch, SelectInts: event.SelectInts{99}})
	require.NoError(t, err)

	c := New(g, gc, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	d := newDescriptor(0)
	d.Control = event.SelectInts{1}
	gc.Output.Insert(d)

	require.Eventually(t, func() bool {
		return gc.Input.Count() == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, event.OwnerSystem, d.Owner)
}

func TestConductorStopDrainsBeforeExit(t *testing.T) {
	g := station.NewGraph()
	gc := g.GrandCentral()
	_, err := g.Create("s1", station.Config{Select: station.SelectAll})
	require.NoError(t, err)

	c := New(g, gc, 1)
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	gc.Output.Insert(newDescriptor(0))
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("conductor did not exit after Stop")
	}
}
