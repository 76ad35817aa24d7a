package relay

import (
	"errors"
	"fmt"
)

// Kind classifies a channel failure. Every error leaving this package is a
// *Error carrying exactly one Kind, so callers can branch without matching
// on transport details.
type Kind string

const (
	KindNotConfigured Kind = "NOT_CONFIGURED"
	KindNetwork       Kind = "NETWORK"
	KindServer        Kind = "SERVER"
	KindDecode        Kind = "DECODE"
	KindPair          Kind = "PAIR"
)

// Error is the normalized channel error.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("relay: %s %s (%s)", e.Op, e.Kind, e.Reason)
	}
	return fmt.Sprintf("relay: %s %s (%s): %v", e.Op, e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not a channel error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotConfigured reports whether err means "no paired session".
func IsNotConfigured(err error) bool {
	return KindOf(err) == KindNotConfigured
}
