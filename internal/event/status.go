// Package event defines the event descriptor record that circulates through
// the station graph, and the closed status taxonomy every operation in the
// core returns through.
package event

import "errors"

// Status is one code from the closed taxonomy every pool and network
// operation returns through. Callers compare with errors.Is against the
// package-level sentinels below, the same pattern the ingest package uses
// for ErrNotRunning, ErrFailedAuth, and friends.
type Status struct {
	code string
}

func (s *Status) Error() string { return s.code }

func newStatus(code string) error { return &Status{code: code} }

// The closed taxonomy. Every local and remote path returns one of these,
// never a freeform error, so that the network server can map a Go error
// back onto the wire status int losslessly.
var (
	ErrOK                  = newStatus("OK")
	ErrGeneric             = newStatus("ERROR")
	ErrTimeout             = newStatus("TIMEOUT")
	ErrNotImplemented      = newStatus("NOT_IMPLEMENTED")
	ErrBadArgument         = newStatus("BAD_ARGUMENT")
	ErrBadFormat           = newStatus("BAD_FORMAT")
	ErrBadDomainType       = newStatus("BAD_DOMAIN_TYPE")
	ErrAlreadyExists       = newStatus("ALREADY_EXISTS")
	ErrNotInitialized      = newStatus("NOT_INITIALIZED")
	ErrAlreadyInit         = newStatus("ALREADY_INIT")
	ErrLostConnection      = newStatus("LOST_CONNECTION")
	ErrNetworkError        = newStatus("NETWORK_ERROR")
	ErrSocketError         = newStatus("SOCKET_ERROR")
	ErrPendError           = newStatus("PEND_ERROR")
	ErrIllegalMsgType      = newStatus("ILLEGAL_MSGTYPE")
	ErrOutOfMemory         = newStatus("OUT_OF_MEMORY")
	ErrOutOfRange          = newStatus("OUT_OF_RANGE")
	ErrLimitExceeded       = newStatus("LIMIT_EXCEEDED")
	ErrBadDomainID         = newStatus("BAD_DOMAIN_ID")
	ErrBadMessage          = newStatus("BAD_MESSAGE")
	ErrWrongDomainType     = newStatus("WRONG_DOMAIN_TYPE")
	ErrDifferentVersion    = newStatus("DIFFERENT_VERSION")
	ErrWrongPassword       = newStatus("WRONG_PASSWORD")
	ErrServerDied          = newStatus("SERVER_DIED")
	ErrAbort               = newStatus("ABORT")
	ErrWakeup              = newStatus("WAKEUP")
	ErrEmpty               = newStatus("EMPTY")
	ErrBusy                = newStatus("BUSY")
	ErrDead                = newStatus("DEAD")
	ErrRead                = newStatus("READ")
	ErrWrite               = newStatus("WRITE")
	ErrRemote              = newStatus("REMOTE")
	ErrTooMany             = newStatus("TOOMANY")
)

// statusCode maps every sentinel to the wire-level status int carried in
// the first word of every response (spec.md §6). Index 0 is reserved for
// OK so a zero-valued response word never needs special-casing.
var statusCode = map[error]int32{
	ErrOK:               0,
	ErrGeneric:          1,
	ErrTimeout:          2,
	ErrNotImplemented:   3,
	ErrBadArgument:      4,
	ErrBadFormat:        5,
	ErrBadDomainType:    6,
	ErrAlreadyExists:    7,
	ErrNotInitialized:   8,
	ErrAlreadyInit:      9,
	ErrLostConnection:   10,
	ErrNetworkError:     11,
	ErrSocketError:      12,
	ErrPendError:        13,
	ErrIllegalMsgType:   14,
	ErrOutOfMemory:      15,
	ErrOutOfRange:       16,
	ErrLimitExceeded:    17,
	ErrBadDomainID:      18,
	ErrBadMessage:       19,
	ErrWrongDomainType:  20,
	ErrDifferentVersion: 21,
	ErrWrongPassword:    22,
	ErrServerDied:       23,
	ErrAbort:            24,
	ErrWakeup:           25,
	ErrEmpty:            26,
	ErrBusy:             27,
	ErrDead:             28,
	ErrRead:             29,
	ErrWrite:            30,
	ErrRemote:           31,
	ErrTooMany:          32,
}

var codeStatus = func() map[int32]error {
	m := make(map[int32]error, len(statusCode))
	for err, code := range statusCode {
		m[code] = err
	}
	return m
}()

// WireCode returns the status int to place on the wire for err. Any error
// not in the closed taxonomy (a bug, not a protocol condition) is mapped to
// the generic ERROR code rather than leaking an arbitrary message.
func WireCode(err error) int32 {
	if err == nil {
		return statusCode[ErrOK]
	}
	for sentinel, code := range statusCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return statusCode[ErrGeneric]
}

// FromWireCode is the inverse of WireCode, used by the remote client to
// turn a response status int back into a Go error the caller can compare
// with errors.Is.
func FromWireCode(code int32) error {
	if err, ok := codeStatus[code]; ok {
		if err == ErrOK {
			return nil
		}
		return err
	}
	return ErrGeneric
}
