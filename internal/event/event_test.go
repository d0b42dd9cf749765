package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrOK, ErrEmpty, ErrBusy, ErrDead, ErrWakeup, ErrTimeout, ErrBadArgument} {
		code := WireCode(sentinel)
		back := FromWireCode(code)
		if sentinel == ErrOK {
			require.NoError(t, back)
			continue
		}
		require.True(t, errors.Is(back, sentinel), "code %d should round-trip to %v, got %v", code, sentinel, back)
	}
}

func TestWireCodeUnknownMapsToGeneric(t *testing.T) {
	require.Equal(t, WireCode(ErrGeneric), WireCode(errors.New("something else")))
}

func TestDescriptorValidate(t *testing.T) {
	d := &Descriptor{Length: 10, Capacity: 8, Group: 1}
	require.ErrorIs(t, d.Validate(4), ErrBadArgument)

	d = &Descriptor{Length: 4, Capacity: 8, Group: 5}
	require.ErrorIs(t, d.Validate(4), ErrBadArgument)

	d = &Descriptor{Length: 4, Capacity: 8, Group: 2}
	require.NoError(t, d.Validate(4))
}

func TestMatchSelectWild(t *testing.T) {
	d := &Descriptor{Control: SelectInts{1, 99, 7}}
	require.True(t, MatchSelect(SelectInts{1, -1, -1}, d))
	require.False(t, MatchSelect(SelectInts{2, -1, -1}, d))
}

func TestIsTemp(t *testing.T) {
	d := &Descriptor{}
	require.False(t, d.IsTemp())
	d.TempPath = "/tmp/et-sys-12.42"
	require.True(t, d.IsTemp())
}
