package power

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mycyclingcity/tachod/internal/hw"
)

func newTestManager() (*Manager, *hw.SimLine, *hw.SimSleeper, *time.Time) {
	line := &hw.SimLine{}
	sleeper := &hw.SimSleeper{}
	m := NewManager(line, sleeper)
	m.Timeout = func() time.Duration { return 5 * time.Minute }

	clk := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clk }

	lastPulse := clk
	m.LastPulse = func() time.Time { return lastPulse }
	// callers advance the clock by reassigning through this pointer
	return m, line, sleeper, &clk
}

func TestNoSuspendBeforeTimeout(t *testing.T) {
	m, _, sleeper, clk := newTestManager()

	*clk = clk.Add(4 * time.Minute)
	assert.False(t, m.Tick())
	assert.Zero(t, sleeper.Suspends)
}

func TestSuspendAfterTimeout(t *testing.T) {
	m, _, sleeper, clk := newTestManager()

	shutdowns := 0
	m.Shutdown = func() { shutdowns++ }

	*clk = clk.Add(6 * time.Minute)
	assert.True(t, m.Tick())
	assert.Equal(t, 1, sleeper.Suspends)
	assert.Equal(t, 1, shutdowns)
}

func TestZeroTimeoutDisablesSleep(t *testing.T) {
	m, _, sleeper, clk := newTestManager()
	m.Timeout = func() time.Duration { return 0 }

	*clk = clk.Add(24 * time.Hour)
	assert.False(t, m.Tick())
	assert.Zero(t, sleeper.Suspends)
}

func TestActiveLineDefersSuspend(t *testing.T) {
	m, line, sleeper, clk := newTestManager()
	line.SetActive(true)

	*clk = clk.Add(6 * time.Minute)
	assert.False(t, m.Tick())
	assert.Zero(t, sleeper.Suspends)

	// the deferral restarts the clock: idle again but not long enough
	line.SetActive(false)
	*clk = clk.Add(time.Minute)
	assert.False(t, m.Tick())
	assert.Zero(t, sleeper.Suspends)

	// full timeout after the deferral, line idle: now it sleeps
	*clk = clk.Add(5 * time.Minute)
	assert.True(t, m.Tick())
	assert.Equal(t, 1, sleeper.Suspends)
}

func TestPreSleepRunsBeforeLineCheck(t *testing.T) {
	m, _, sleeper, clk := newTestManager()

	var order []string
	m.PreSleep = func() { order = append(order, "pre-sleep") }
	m.Shutdown = func() { order = append(order, "shutdown") }

	*clk = clk.Add(6 * time.Minute)
	assert.True(t, m.Tick())
	assert.Equal(t, []string{"pre-sleep", "shutdown"}, order)
	assert.Equal(t, 1, sleeper.Suspends)
}

func TestNoPulseYetStartsClockAtFirstTick(t *testing.T) {
	m, _, sleeper, clk := newTestManager()
	m.LastPulse = func() time.Time { return time.Time{} }

	// first evaluation only arms the clock
	assert.False(t, m.Tick())
	assert.Zero(t, sleeper.Suspends)

	*clk = clk.Add(6 * time.Minute)
	assert.True(t, m.Tick())
	assert.Equal(t, 1, sleeper.Suspends)
}

func TestFailedSuspendKeepsRunning(t *testing.T) {
	m, _, sleeper, clk := newTestManager()
	sleeper.Err = fmt.Errorf("no suspend support")

	// a failed suspend must not report the device as suspended, or the
	// control loop would exit while the hardware is still awake
	*clk = clk.Add(6 * time.Minute)
	assert.False(t, m.Tick())
	assert.Equal(t, 1, sleeper.Suspends)

	// the failure restarted the idle clock; no immediate retry
	assert.False(t, m.Tick())
	assert.Equal(t, 1, sleeper.Suspends)

	// after another full timeout the suspend is attempted again
	*clk = clk.Add(6 * time.Minute)
	assert.False(t, m.Tick())
	assert.Equal(t, 2, sleeper.Suspends)
}
