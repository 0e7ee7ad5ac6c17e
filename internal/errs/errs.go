// Package errs defines the error taxonomy shared by every layer of the node.
//
// Spec §7 names five kinds of failure a client or a peer can observe: IO,
// Protocol, NotPrimary, Unavailable, and ReplicationLag (the last one never
// crosses the wire — it only triggers an internal resync).
package errs

import "errors"

// Kind classifies an error for wire-protocol status codes and logging.
type Kind uint8

const (
	KindIO Kind = iota
	KindProtocol
	KindNotPrimary
	KindUnavailable
	KindReplicationLag
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindProtocol:
		return "Protocol"
	case KindNotPrimary:
		return "NotPrimary"
	case KindUnavailable:
		return "Unavailable"
	case KindReplicationLag:
		return "ReplicationLag"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// failure category without string matching.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with kind. A nil cause is still a reportable error (it
// carries the kind alone).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// IO wraps a disk/fsync failure.
func IO(cause error) *Error { return New(KindIO, cause) }

// NotPrimaryError reports a write rejected by a follower, carrying the best
// known leader hint (may be empty if no leader is currently known).
type NotPrimaryError struct {
	LeaderID string
}

func (e *NotPrimaryError) Error() string {
	if e.LeaderID == "" {
		return "not primary: no known leader"
	}
	return "not primary: leader is " + e.LeaderID
}

// ErrDegraded is returned for every write once the engine has entered the
// read-only degraded state after a failed fsync (spec §7).
var ErrDegraded = errors.New("storage engine is in read-only degraded mode")

// ErrCorruptWAL names a WAL record that failed its checksum or sequence
// check. Recovery does not return it: WAL.ReadAll stops at the first such
// record and recovery truncates the tail from there.
var ErrCorruptWAL = errors.New("wal entry failed checksum or sequence check")

// AsNotPrimary extracts a *NotPrimaryError if err is (or wraps) one.
func AsNotPrimary(err error) (*NotPrimaryError, bool) {
	var np *NotPrimaryError
	ok := errors.As(err, &np)
	return np, ok
}

// AsKind reports whether err is (or wraps) an *Error of the given kind.
func AsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
