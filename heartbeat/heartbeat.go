// File: heartbeat/heartbeat.go
// Package heartbeat implements the Ping/Pong liveness check
// independent of the link state machine.
// Author: momentics <momentics@gmail.com>

package heartbeat

import (
	"github.com/momentics/picc-ipc/apicore"
	"github.com/momentics/picc-ipc/stack"
)

// TimeoutFunc is invoked once the miss counter reaches
// apicore.HeartbeatTimeoutCnt.
type TimeoutFunc func()

// Monitor is the per-channel heartbeat context: a miss counter plus the framer it rides on.
type Monitor struct {
	framer    *stack.Framer
	onTimeout TimeoutFunc

	missCount int
}

// NewMonitor builds a heartbeat monitor for one channel.
func NewMonitor(framer *stack.Framer, onTimeout TimeoutFunc) *Monitor {
	return &Monitor{framer: framer, onTimeout: onTimeout}
}

// MissCount exposes the current miss counter for diagnostics/tests.
func (m *Monitor) MissCount() int { return m.missCount }

// Process runs once every apicore.HeartbeatPeriodMS: send a PING and
// increment the miss counter. The miss counter is incremented on the
// very tick the PING is sent, before any reply can possibly arrive, so
// the effective timeout is HeartbeatTimeoutCnt-1 round trips, not
// HeartbeatTimeoutCnt; the Pong handler resets the counter on every
// reply, which makes this harmless in steady state.
func (m *Monitor) Process() error {
	if err := m.framer.SendHeartbeat(apicore.Ping); err != nil {
		return err
	}
	m.missCount++
	if m.missCount >= apicore.HeartbeatTimeoutCnt {
		m.missCount = 0
		if m.onTimeout != nil {
			m.onTimeout()
		}
	}
	return nil
}

// OnPing replies with an immediate PONG flush, not deferred to the
// next periodic tick.
func (m *Monitor) OnPing() error {
	return m.framer.SendHeartbeat(apicore.Pong)
}

// OnPong resets the miss counter.
func (m *Monitor) OnPong() {
	m.missCount = 0
}
