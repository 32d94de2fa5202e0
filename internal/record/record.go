// Package record owns the lifecycle of one capture session: accumulating
// speech segments and producing immutable finalized buffers for dispatch.
package record

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sengokudaikon/echoes/internal/fsm"
	"github.com/sengokudaikon/echoes/internal/vad"
)

var (
	// ErrEmptyRecording indicates stop arrived with no speech detected;
	// nothing is dispatched.
	ErrEmptyRecording = errors.New("no speech detected in recording")
	// ErrAlreadyRecording guards the single-active-session invariant.
	ErrAlreadyRecording = errors.New("a recording session is already active")
	// ErrNoActiveSession indicates stop/cancel/append without a session.
	ErrNoActiveSession = errors.New("no active recording session")
)

// FinalizedBuffer is the immutable transcription payload for one speech
// segment: fully assembled mono 16 kHz samples plus duration. Never mutated
// after creation; ownership transfers to the dispatcher.
type FinalizedBuffer struct {
	SessionID string
	Segment   int
	Samples   []int16
	Duration  time.Duration
}

// Session describes one active capture.
type Session struct {
	ID        string
	StartedAt time.Time

	segments   []vad.Segment
	dispatched int
}

// SpeechDuration totals the accumulated, not yet finalized speech.
func (s *Session) SpeechDuration() time.Duration {
	var total time.Duration
	for _, seg := range s.segments {
		total += seg.Duration()
	}
	return total
}

// Manager drives the session state machine. It is the sole owner of the
// active session; no other component mutates it.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   fsm.State
	session *Session
}

// NewManager returns an idle manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger, state: fsm.StateIdle}
}

// State returns the current lifecycle state snapshot.
func (m *Manager) State() fsm.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start opens a new session. Refused while a prior one is not terminal.
func (m *Manager) Start() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !fsm.Terminal(m.state) {
		return "", ErrAlreadyRecording
	}
	m.state = fsm.StateIdle

	next, err := fsm.Transition(m.state, fsm.EventStart)
	if err != nil {
		return "", err
	}
	m.state = next
	m.session = &Session{ID: uuid.NewString(), StartedAt: time.Now()}

	m.log("session started", "session_id", m.session.ID)
	return m.session.ID, nil
}

// Append accumulates one finalized speech segment. A forced split is
// finalized immediately and returned so dispatch can begin while the
// recording continues; the returned flag reports that case.
func (m *Manager) Append(seg vad.Segment) (FinalizedBuffer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != fsm.StateRecording || m.session == nil {
		return FinalizedBuffer{}, false, ErrNoActiveSession
	}

	if !seg.ForcedSplit {
		m.session.segments = append(m.session.segments, seg)
		return FinalizedBuffer{}, false, nil
	}

	m.session.dispatched++
	buf := finalize(m.session.ID, seg)
	m.log("forced split finalized",
		"session_id", m.session.ID,
		"segment", seg.Index,
		"duration_ms", buf.Duration.Milliseconds(),
	)
	return buf, true, nil
}

// Stop finalizes the session. It returns the remaining finalized buffers in
// segment order. With zero speech across the whole session it fails with
// ErrEmptyRecording and nothing is dispatched. Either way the session is
// destroyed and the manager returns to idle.
func (m *Manager) Stop() ([]FinalizedBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != fsm.StateRecording || m.session == nil {
		return nil, ErrNoActiveSession
	}
	m.state = mustTransition(m.state, fsm.EventStop)

	session := m.session
	m.session = nil

	if len(session.segments) == 0 && session.dispatched == 0 {
		m.state = mustTransition(m.state, fsm.EventFail)
		m.state = mustTransition(m.state, fsm.EventReset)
		m.log("session ended empty", "session_id", session.ID)
		return nil, fmt.Errorf("finalize session %s: %w", session.ID, ErrEmptyRecording)
	}

	buffers := make([]FinalizedBuffer, 0, len(session.segments))
	for _, seg := range session.segments {
		buffers = append(buffers, finalize(session.ID, seg))
	}

	m.state = mustTransition(m.state, fsm.EventDispatch)
	m.state = mustTransition(m.state, fsm.EventReset)
	m.log("session finalized",
		"session_id", session.ID,
		"segments", len(buffers),
		"eager_segments", session.dispatched,
	)
	return buffers, nil
}

// Cancel discards all accumulated audio immediately. No dispatch occurs.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNoActiveSession
	}
	id := m.session.ID
	m.session = nil
	m.state = mustTransition(m.state, fsm.EventCancel)
	m.state = mustTransition(m.state, fsm.EventReset)
	m.log("session cancelled", "session_id", id)
	return nil
}

// Fail records an upstream pipeline fault, discarding the session.
func (m *Manager) Fail(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id string
	if m.session != nil {
		id = m.session.ID
	}
	m.session = nil
	m.state = mustTransition(m.state, fsm.EventFail)
	m.state = mustTransition(m.state, fsm.EventReset)
	m.log("session failed", "session_id", id, "error", fmt.Sprint(cause))
}

func (m *Manager) log(msg string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Info(msg, args...)
}

func finalize(sessionID string, seg vad.Segment) FinalizedBuffer {
	return FinalizedBuffer{
		SessionID: sessionID,
		Segment:   seg.Index,
		Samples:   seg.Samples,
		Duration:  seg.Duration(),
	}
}

// mustTransition applies events the manager generates itself; these are
// valid by construction.
func mustTransition(state fsm.State, event fsm.Event) fsm.State {
	next, err := fsm.Transition(state, event)
	if err != nil {
		panic(err)
	}
	return next
}

// BufferBytes reports the PCM payload size of a finalized buffer.
func BufferBytes(buf FinalizedBuffer) int64 {
	return int64(len(buf.Samples) * 2)
}
