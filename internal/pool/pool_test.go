package pool

import (
	"context"
	"testing"

	"github.com/JeffersonLab/et-sub001/internal/attach"
	"github.com/JeffersonLab/et-sub001/internal/event"
	"github.com/JeffersonLab/et-sub001/internal/station"
	"github.com/JeffersonLab/et-sub001/internal/tempstore"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, nEvents int, cap uint32) (*Pool, *station.Graph, *attach.Registry) {
	g := station.NewGraph()
	atts := attach.NewRegistry()
	ts := tempstore.New(t.TempDir(), "testsys")
	p := New(g, atts, ts, cap, 1)
	p.Init(nEvents)
	return p, g, atts
}

func TestNewGetPutRoundTrip(t *testing.T) {
	p, g, atts := newTestPool(t, 10, 32)
	gc := g.GrandCentral()
	att := atts.Create(1, station.GrandCentralID, "")

	got, err := p.New(context.Background(), att, 32, 3, 0, SleepMode())
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, d := range got {
		require.Equal(t, event.OwnerAttachment, d.Owner)
		require.Equal(t, att.ID, d.OwnerID)
	}
	require.Equal(t, 7, gc.Input.Count())

	require.NoError(t, p.Put(att, got))
	require.Equal(t, 3, gc.Output.Count())
	for _, d := range got {
		require.Equal(t, event.OwnerStation, d.Owner)
		require.Equal(t, station.GrandCentralID, d.OwnerID)
	}
}

func TestNewAsyncEmptyWhenDrained(t *testing.T) {
	p, _, atts := newTestPool(t, 2, 32)
	att := atts.Create(1, station.GrandCentralID, "")

	_, err := p.New(context.Background(), att, 32, 2, 0, AsyncMode())
	require.NoError(t, err)

	_, err = p.New(context.Background(), att, 32, 1, 0, AsyncMode())
	require.ErrorIs(t, err, event.ErrEmpty)
}

func TestNewAllOrNothingPutsBackPartial(t *testing.T) {
	p, g, atts := newTestPool(t, 2, 32)
	att := atts.Create(1, station.GrandCentralID, "")

	_, err := p.New(context.Background(), att, 32, 3, 0, AsyncMode())
	require.ErrorIs(t, err, event.ErrEmpty)
	require.Equal(t, 2, g.GrandCentral().Input.Count(), "partial allocation must be rolled back")
}

func TestPutRejectsWrongOwner(t *testing.T) {
	p, _, atts := newTestPool(t, 2, 32)
	att1 := atts.Create(1, station.GrandCentralID, "")
	att2 := atts.Create(2, station.GrandCentralID, "")

	got, err := p.New(context.Background(), att1, 32, 1, 0, SleepMode())
	require.NoError(t, err)

	err = p.Put(att2, got)
	require.ErrorIs(t, err, event.ErrBadArgument)
}

func TestDumpIdempotenceFails(t *testing.T) {
	p, g, atts := newTestPool(t, 2, 32)
	att := atts.Create(1, station.GrandCentralID, "")

	got, err := p.New(context.Background(), att, 32, 1, 0, SleepMode())
	require.NoError(t, err)

	require.NoError(t, p.Dump(att, got))
	require.Equal(t, event.OwnerSystem, got[0].Owner)

	// I5: dumping the same event twice from the same attachment fails.
	err = p.Dump(att, got)
	require.ErrorIs(t, err, event.ErrBadArgument)
	_ = g
}

func TestTempEventOnOversizedNew(t *testing.T) {
	p, _, atts := newTestPool(t, 2, 32)
	att := atts.Create(1, station.GrandCentralID, "")

	got, err := p.New(context.Background(), att, 1024, 1, 0, SleepMode())
	require.NoError(t, err)
	require.True(t, got[0].IsTemp())
	require.FileExists(t, got[0].TempPath)
}

func TestRestoreAttachmentReclaimsOutstandingEvents(t *testing.T) {
	p, g, atts := newTestPool(t, 4, 32)
	att := atts.Create(1, station.GrandCentralID, "")

	got, err := p.New(context.Background(), att, 32, 2, 0, SleepMode())
	require.NoError(t, err)
	require.Len(t, got, 2)

	n := p.RestoreAttachment(att)
	require.Equal(t, 2, n)
	require.Equal(t, 4, g.GrandCentral().Input.Count())
	for _, d := range got {
		require.Equal(t, event.OwnerStation, d.Owner)
	}

	// a second restore finds nothing left to reclaim.
	require.Equal(t, 0, p.RestoreAttachment(att))
}

func TestGetReturnsRequestedCountFromStationInput(t *testing.T) {
	p, g, atts := newTestPool(t, 6, 32)
	gc := g.GrandCentral()
	producer := atts.Create(1, station.GrandCentralID, "")

	got, err := p.New(context.Background(), producer, 32, 3, 0, SleepMode())
	require.NoError(t, err)
	require.NoError(t, p.Put(producer, got))

	// move straight to GC input to simulate a one-station ring for Get.
	for _, d := range got {
		d.Owner = event.OwnerStation
		gc.Input.Insert(d)
	}
	consumer := atts.Create(2, station.GrandCentralID, "")
	out, err := p.Get(context.Background(), consumer, 3, SleepMode())
	require.NoError(t, err)
	require.Len(t, out, 3)
}
