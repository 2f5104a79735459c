// Package rpcerr defines how transport failures are classified and how they are reported
// to callers.
//
// Every socket operation's outcome is classified into a Kind, and the Kind decides the
// control flow:
//
//	Recoverable  preflight failed      → drop the socket, try the next candidate
//	Timeout      ErrAgain on request   → close the socket, retry the attempt
//	Fatal        anything else         → abort the call, no retry
//
// Callers only ever see *Error, with one of three codes.
package rpcerr

import (
	"errors"
	"fmt"
	"time"

	"pirate-rpc/transport"
)

// Kind is the classification of a transport outcome.
type Kind int

const (
	KindOK Kind = iota
	KindRecoverable
	KindTimeout
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRecoverable:
		return "recoverable"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Phase is the part of an attempt a transport call belongs to.
type Phase int

const (
	// PhasePreflight covers the CHECK_AVAILABLE handshake.
	PhasePreflight Phase = iota
	// PhaseRequest covers sending the real request and receiving its reply.
	PhaseRequest
)

// Classify maps the result of one socket operation to a Kind.
func Classify(err error, phase Phase) Kind {
	switch {
	case err == nil:
		return KindOK
	case phase == PhasePreflight:
		return KindRecoverable
	case errors.Is(err, transport.ErrAgain):
		return KindTimeout
	default:
		return KindFatal
	}
}

// Code identifies the failure reported to the caller.
type Code int

const (
	// CodeServiceUnavailable: no live server could be resolved.
	CodeServiceUnavailable Code = iota + 1
	// CodeDeadlineExceeded: every attempt timed out.
	CodeDeadlineExceeded
	// CodeTransportFault: any other fatal transport failure.
	CodeTransportFault
)

func (c Code) String() string {
	switch c {
	case CodeServiceUnavailable:
		return "ServiceUnavailable"
	case CodeDeadlineExceeded:
		return "DeadlineExceeded"
	case CodeTransportFault:
		return "TransportFault"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Sentinels for errors.Is matching against *Error.
var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrTransportFault     = errors.New("transport fault")
)

// Error is the only error type returned to callers of a send.
type Error struct {
	Code     Code
	Service  string
	Attempts int
	Elapsed  time.Duration
	// Timeout is the effective per-attempt request timeout.
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	var msg string
	switch e.Code {
	case CodeServiceUnavailable:
		msg = fmt.Sprintf("%s: no live server for service %q", e.Code, e.Service)
	case CodeDeadlineExceeded:
		msg = fmt.Sprintf("%s: service %q repeatedly failed to respond within %s", e.Code, e.Service, formatTimeout(e.Timeout))
	default:
		msg = fmt.Sprintf("%s: service %q", e.Code, e.Service)
	}
	msg = fmt.Sprintf("%s (attempts=%d, elapsed=%s)", msg, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// formatTimeout prints a negative (disabled) timeout as "none".
func formatTimeout(d time.Duration) string {
	if d < 0 {
		return "none"
	}
	return d.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDeadlineExceeded) and friends match on Code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrServiceUnavailable:
		return e.Code == CodeServiceUnavailable
	case ErrDeadlineExceeded:
		return e.Code == CodeDeadlineExceeded
	case ErrTransportFault:
		return e.Code == CodeTransportFault
	}
	return false
}

// CodeOf returns the Code carried by err, or 0 if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
