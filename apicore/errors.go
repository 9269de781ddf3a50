// File: apicore/errors.go
// Package apicore defines the shared contracts between the shm ring,
// buffer pool, channel, instance, stack, link, heartbeat and dispatch
// packages.
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy per the transport/middleware error contract: every
// fallible call returns one of these codes rather than panicking, so a
// peer crash or a corrupted ring never unwinds the caller.

package apicore

import "fmt"

// Code enumerates the error kinds surfaced across the transport and
// middleware API.
type Code int

const (
	OK Code = iota
	NotReady
	NoMem
	Inval
	NoQueue
	NotSup
	Integrity
	RemoteInitInProgress
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotReady:
		return "NOT_READY"
	case NoMem:
		return "NOMEM"
	case Inval:
		return "INVAL"
	case NoQueue:
		return "NO_QUEUE"
	case NotSup:
		return "NOTSUP"
	case Integrity:
		return "INTEGRITY"
	case RemoteInitInProgress:
		return "REMOTE_INIT_IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Error is a structured error carrying the taxonomy code plus the
// call-site context useful for the trace ring (see trace.Record).
type Error struct {
	Code    Code
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (context: %+v)", e.Code, e.Message, e.Context)
}

// New creates a structured error for the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithContext attaches a key/value pair, for example the ring or
// channel id that failed.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the apicore.Code from err, defaulting to Inval for
// errors not originating in this package (e.g. syscall failures from
// the hw/rtos simulation layer).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Inval
}
