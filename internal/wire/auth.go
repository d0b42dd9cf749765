package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AuthVersion is the handshake protocol version exchanged up front, the
// same role the teacher's auth.go VERSION constant plays.
const AuthVersion uint16 = 0x1

// hashIterations mirrors the teacher's HASH_ITERATIONS repeated-hashing of
// the shared secret, making a captured challenge/response pair unusable
// without the secret itself.
const hashIterations = 16

var (
	ErrAuthFailed    = errors.New("wire: authentication failed")
	ErrShortRead     = errors.New("wire: short read assembling auth message")
	ErrVersionMismatch = errors.New("wire: auth version mismatch")
)

// Challenge is the server's half of the handshake: a random nonce the
// client must hash together with the shared secret (spec.md §6, grounded
// on the teacher's auth.go Challenge/ChallengeResponse pair).
type Challenge struct {
	Version uint16
	Nonce   [32]byte
}

// NewChallenge returns a fresh random challenge.
func NewChallenge() (Challenge, error) {
	c := Challenge{Version: AuthVersion}
	if _, err := rand.Read(c.Nonce[:]); err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// Response is the client's answer: hashIterations rounds of SHA-256 over
// secret||nonce, the accumulator re-fed each round the way the teacher's
// auth.go iterates md5 then sha256 over the shared secret.
type Response struct {
	Digest [32]byte
}

func respond(secret []byte, nonce [32]byte) [32]byte {
	acc := sha256.Sum256(append(append([]byte{}, secret...), nonce[:]...))
	for i := 1; i < hashIterations; i++ {
		acc = sha256.Sum256(acc[:])
	}
	return acc
}

// Respond computes the response a client sends back for challenge c.
func Respond(secret []byte, c Challenge) Response {
	return Response{Digest: respond(secret, c.Nonce)}
}

// Verify checks a client's response against the expected secret, in
// constant time (spec.md §6: authentication must not leak timing
// information about a partially-correct secret).
func Verify(secret []byte, c Challenge, r Response) error {
	want := respond(secret, c.Nonce)
	if subtle.ConstantTimeCompare(want[:], r.Digest[:]) != 1 {
		return ErrAuthFailed
	}
	return nil
}

// EncodeChallenge/DecodeChallenge and EncodeResponse/DecodeResponse give
// the handshake a fixed wire shape independent of gob, so the very first
// bytes on a new connection (before any negotiated encoding) are
// unambiguous.
func EncodeChallenge(c Challenge) []byte {
	buf := make([]byte, 2+32)
	binary.BigEndian.PutUint16(buf[0:2], c.Version)
	copy(buf[2:], c.Nonce[:])
	return buf
}

func DecodeChallenge(b []byte) (Challenge, error) {
	if len(b) < 34 {
		return Challenge{}, ErrShortRead
	}
	var c Challenge
	c.Version = binary.BigEndian.Uint16(b[0:2])
	copy(c.Nonce[:], b[2:34])
	if c.Version != AuthVersion {
		return Challenge{}, ErrVersionMismatch
	}
	return c, nil
}

func EncodeResponse(r Response) []byte {
	out := make([]byte, 32)
	copy(out, r.Digest[:])
	return out
}

func DecodeResponse(b []byte) (Response, error) {
	if len(b) < 32 {
		return Response{}, ErrShortRead
	}
	var r Response
	copy(r.Digest[:], b[:32])
	return r, nil
}
