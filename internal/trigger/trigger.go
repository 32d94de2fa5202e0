// Package trigger turns raw press/release edges from the control socket
// into start/stop/cancel actions, debouncing key chatter.
package trigger

import (
	"sync"
	"time"
)

// Action is what the session controller should do in response to an edge.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Trigger modes. Hold records while the key is down; toggle flips
// recording on each press and ignores releases.
const (
	ModeHold   = "hold"
	ModeToggle = "toggle"
)

// Machine tracks the trigger state for one daemon. Edges arriving within
// the debounce window of the previously accepted edge are dropped.
type Machine struct {
	mode     string
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastEdge time.Time
	engaged  bool
}

// New builds a trigger machine. An unknown mode falls back to hold.
func New(mode string, debounce time.Duration) *Machine {
	if mode != ModeHold && mode != ModeToggle {
		mode = ModeHold
	}
	return &Machine{mode: mode, debounce: debounce, now: time.Now}
}

// Press handles a key-down edge.
func (m *Machine) Press() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptEdge() {
		return ActionNone
	}

	switch m.mode {
	case ModeToggle:
		if m.engaged {
			m.engaged = false
			return ActionStop
		}
		m.engaged = true
		return ActionStart
	default:
		if m.engaged {
			return ActionNone
		}
		m.engaged = true
		return ActionStart
	}
}

// Release handles a key-up edge. Toggle mode ignores releases entirely.
func (m *Machine) Release() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == ModeToggle {
		return ActionNone
	}
	if !m.acceptEdge() {
		return ActionNone
	}
	if !m.engaged {
		return ActionNone
	}
	m.engaged = false
	return ActionStop
}

// Cancel abandons the active recording regardless of trigger state.
func (m *Machine) Cancel() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.engaged = false
	return ActionCancel
}

// NotifyStopped informs the machine that recording ended without a
// release edge, e.g. the max-duration cutoff or a pipeline failure.
// Without this, toggle mode would treat the next press as a stop.
func (m *Machine) NotifyStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engaged = false
}

// Engaged reports whether the machine considers recording active.
func (m *Machine) Engaged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engaged
}

// acceptEdge applies debounce; the caller holds the lock. Debounce only
// suppresses edges, it never reorders them.
func (m *Machine) acceptEdge() bool {
	now := m.now()
	if !m.lastEdge.IsZero() && now.Sub(m.lastEdge) < m.debounce {
		return false
	}
	m.lastEdge = now
	return true
}
