package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances only when told to, so debounce windows are exact.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestMachine(mode string) (*Machine, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := New(mode, 50*time.Millisecond)
	m.now = clock.now
	return m, clock
}

func TestHoldPressRelease(t *testing.T) {
	m, clock := newTestMachine(ModeHold)

	assert.Equal(t, ActionStart, m.Press())
	assert.True(t, m.Engaged())

	clock.advance(200 * time.Millisecond)
	assert.Equal(t, ActionStop, m.Release())
	assert.False(t, m.Engaged())
}

func TestHoldRepeatedPressIgnored(t *testing.T) {
	m, clock := newTestMachine(ModeHold)

	assert.Equal(t, ActionStart, m.Press())
	clock.advance(200 * time.Millisecond)
	// Key-repeat sends extra press edges while held.
	assert.Equal(t, ActionNone, m.Press())
	clock.advance(200 * time.Millisecond)
	assert.Equal(t, ActionStop, m.Release())
}

func TestHoldReleaseWithoutPress(t *testing.T) {
	m, _ := newTestMachine(ModeHold)
	assert.Equal(t, ActionNone, m.Release())
}

func TestDebounceSuppressesChatter(t *testing.T) {
	m, clock := newTestMachine(ModeHold)

	assert.Equal(t, ActionStart, m.Press())
	// A release 10ms later is switch bounce, not intent.
	clock.advance(10 * time.Millisecond)
	assert.Equal(t, ActionNone, m.Release())
	assert.True(t, m.Engaged())

	clock.advance(60 * time.Millisecond)
	assert.Equal(t, ActionStop, m.Release())
}

func TestTogglePressFlips(t *testing.T) {
	m, clock := newTestMachine(ModeToggle)

	assert.Equal(t, ActionStart, m.Press())
	clock.advance(100 * time.Millisecond)
	assert.Equal(t, ActionNone, m.Release())
	assert.True(t, m.Engaged())

	clock.advance(time.Second)
	assert.Equal(t, ActionStop, m.Press())
	assert.False(t, m.Engaged())
}

func TestToggleDebounce(t *testing.T) {
	m, clock := newTestMachine(ModeToggle)

	assert.Equal(t, ActionStart, m.Press())
	clock.advance(20 * time.Millisecond)
	assert.Equal(t, ActionNone, m.Press())
	assert.True(t, m.Engaged())
}

func TestCancelResets(t *testing.T) {
	m, _ := newTestMachine(ModeHold)

	assert.Equal(t, ActionStart, m.Press())
	assert.Equal(t, ActionCancel, m.Cancel())
	assert.False(t, m.Engaged())
}

func TestNotifyStoppedResetsToggle(t *testing.T) {
	m, clock := newTestMachine(ModeToggle)

	assert.Equal(t, ActionStart, m.Press())
	// Max-duration cutoff stopped the recording without a press.
	m.NotifyStopped()

	clock.advance(time.Second)
	assert.Equal(t, ActionStart, m.Press())
}

func TestUnknownModeFallsBackToHold(t *testing.T) {
	m := New("bogus", time.Millisecond)
	assert.Equal(t, ActionStart, m.Press())
}
