package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Command: CmdNew, Payload: []byte("hello")}
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, f.Command, got.Command)
	require.Equal(t, f.Payload, got.Payload)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Command: CmdPing}))
	corrupt := buf.Bytes()
	corrupt[0] ^= 0xFF
	_, err := ReadFrame(bytes.NewReader(corrupt))
	require.ErrorIs(t, err, ErrBadFrameMagic)
}

func TestStatusFrameRoundTrip(t *testing.T) {
	f := StatusFrame(CmdGet, 7, []byte("body"))
	status, body, err := SplitStatus(f)
	require.NoError(t, err)
	require.EqualValues(t, 7, status)
	require.Equal(t, []byte("body"), body)
}

func TestAuthChallengeResponseRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	c, err := NewChallenge()
	require.NoError(t, err)

	r := Respond(secret, c)
	require.NoError(t, Verify(secret, c, r))

	wrong := Respond([]byte("not-the-secret"), c)
	require.Error(t, Verify(secret, c, wrong))
}

func TestChallengeWireEncoding(t *testing.T) {
	c, err := NewChallenge()
	require.NoError(t, err)
	enc := EncodeChallenge(c)
	dec, err := DecodeChallenge(enc)
	require.NoError(t, err)
	require.Equal(t, c, dec)
}
