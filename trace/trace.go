// File: trace/trace.go
// Package trace implements a per-instance error-site recorder: each
// Capture stores the caller's file, line and error code in a bounded
// ring that keeps the most recent records, and increments a total
// error count. Capture returns the error unchanged, so callers keep
// running after a non-fatal error.
// Author: momentics <momentics@gmail.com>

package trace

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/momentics/picc-ipc/apicore"
)

// Record is one captured error-site snapshot. ID is a compact, sortable, allocation-free identifier so
// operators can correlate trace dumps across restarts without a
// counter reset colliding.
type Record struct {
	ID      xid.ID
	Code    apicore.Code
	File    string
	Line    int
	Message string
}

// Recorder is the per-instance error slot plus a bounded ring of the
// most recent captures for a debug snapshot. Guarded by a short
// critical section rather than fine-grained locks.
type Recorder struct {
	mu    sync.Mutex
	ring  []Record
	next  int
	full  bool
	count uint64
}

// NewRecorder builds a recorder holding up to capacity records. A
// non-positive capacity selects a default of 32.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 32
	}
	return &Recorder{ring: make([]Record, capacity)}
}

// Capture records err's call site and increments the error counter,
// then returns err unchanged so a call site can compose it inline:
// `return recorder.Capture(apicore.New(...))`. A nil err is a no-op.
func (r *Recorder) Capture(err error) error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	rec := Record{
		ID:      xid.New(),
		Code:    apicore.CodeOf(err),
		File:    file,
		Line:    line,
		Message: err.Error(),
	}
	r.mu.Lock()
	r.ring[r.next] = rec
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	atomic.AddUint64(&r.count, 1)
	return err
}

// Count returns the total number of errors captured since creation.
func (r *Recorder) Count() uint64 { return atomic.LoadUint64(&r.count) }

// Last returns the most recently captured record, or false if none
// has been captured yet.
func (r *Recorder) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next == 0 && !r.full {
		return Record{}, false
	}
	idx := r.next - 1
	if idx < 0 {
		idx = len(r.ring) - 1
	}
	return r.ring[idx], true
}

// Snapshot returns a copy of all captured records, oldest first, for
// a debug dump.
func (r *Recorder) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Record, r.next)
		copy(out, r.ring[:r.next])
		return out
	}
	out := make([]Record, len(r.ring))
	copy(out, r.ring[r.next:])
	copy(out[len(r.ring)-r.next:], r.ring[:r.next])
	return out
}
