package station

import (
	"testing"

	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/stretchr/testify/require"
)

func TestGraphCreateRingOrder(t *testing.T) {
	g := NewGraph()
	s1, err := g.Create("s1", Config{Select: SelectAll})
	require.NoError(t, err)
	s2, err := g.Create("s2", Config{Select: SelectAll})
	require.NoError(t, err)

	require.Same(t, s1, g.Next(g.GrandCentral()))
	require.Same(t, s2, g.Next(s1))
	require.Same(t, g.GrandCentral(), g.Next(s2))
}

func TestGraphDuplicateNameRejected(t *testing.T) {
	g := NewGraph()
	_, err := g.Create("dup", Config{})
	require.NoError(t, err)
	_, err = g.Create("dup", Config{})
	require.ErrorIs(t, err, ErrStationExists)
}

func TestParallelGroupRoundRobin(t *testing.T) {
	g := NewGraph()
	cfg := Config{Select: SelectAll, Distribution: RoundRobin, Cue: 100}
	anchor, err := g.Create("p0", cfg)
	require.NoError(t, err)
	_, err = g.CreateParallel("p0", "p1", cfg)
	require.NoError(t, err)
	_, err = g.CreateParallel("p0", "p2", cfg)
	require.NoError(t, err)

	sibs := g.Siblings(anchor)
	require.Len(t, sibs, 3)

	counts := map[string]int{}
	for i := 0; i < 7; i++ {
		target := g.PickSibling(anchor)
		require.NotNil(t, target)
		target.Input.Insert(&event.Descriptor{Place: uint32(i)})
		counts[target.Name]++
	}
	// scenario 4 of spec.md §8: 7 events over 3 siblings settle [3,2,2] in ring order.
	require.Equal(t, 3, counts["p0"])
	require.Equal(t, 2, counts["p1"])
	require.Equal(t, 2, counts["p2"])
}

func TestParallelGroupEqualCue(t *testing.T) {
	g := NewGraph()
	cfg := Config{Select: SelectAll, Distribution: EqualCue, Cue: 100}
	anchor, err := g.Create("p0", cfg)
	require.NoError(t, err)
	sib, err := g.CreateParallel("p0", "p1", cfg)
	require.NoError(t, err)

	anchor.Input.Insert(&event.Descriptor{Place: 1})
	anchor.Input.Insert(&event.Descriptor{Place: 2})

	target := g.PickSibling(anchor)
	require.Same(t, sib, target, "sibling with fewer queued events should win")
}

func TestAutoRemoveSingleStation(t *testing.T) {
	g := NewGraph()
	s, err := g.Create("only", Config{Select: SelectAll, User: Single})
	require.NoError(t, err)
	s.AddAttachment(1)

	g.MaybeAutoRemove(s)
	_, ok := g.Lookup(s.ID)
	require.True(t, ok, "station with an active attachment must not be removed")

	s.RemoveAttachment(1)
	g.MaybeAutoRemove(s)
	_, ok = g.Lookup(s.ID)
	require.False(t, ok, "SINGLE station with no attachments should auto-remove")
}

func TestRemoveGrandCentralRejected(t *testing.T) {
	g := NewGraph()
	require.Error(t, g.Remove(GrandCentralID))
}
