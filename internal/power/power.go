// Package power decides when the node gives up on further pulses and
// suspends into deep sleep.
package power

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/hw"
)

// Manager evaluates the inactivity timeout each tick. It never suspends
// while the sensor line reads active: a pulse may be in flight, and losing it
// is worse than staying awake another interval.
type Manager struct {
	line    hw.Line
	sleeper hw.Sleeper

	// Timeout reads the configured inactivity timeout; zero disables deep
	// sleep entirely.
	Timeout func() time.Duration
	// LastPulse reports when the last pulse was counted.
	LastPulse func() time.Time
	// PreSleep runs best-effort work before suspension — the firmware
	// update check, so long idle periods don't miss updates. It may not
	// return (a successful update restarts the device).
	PreSleep func()
	// Shutdown powers down peripherals (display rail and friends).
	Shutdown func()

	now func() time.Time

	// deferredAt replaces the pulse timestamp after a deferred suspend, so
	// the full timeout runs again before the next attempt.
	deferredAt time.Time
}

func NewManager(line hw.Line, sleeper hw.Sleeper) *Manager {
	return &Manager{
		line:      line,
		sleeper:   sleeper,
		Timeout:   func() time.Duration { return 0 },
		LastPulse: func() time.Time { return time.Time{} },
		PreSleep:  func() {},
		Shutdown:  func() {},
		now:       time.Now,
	}
}

// Tick checks the inactivity clock and suspends when it has expired and the
// line is idle. Returns true only when the device was actually suspended; a
// failed suspend defers and keeps the loop running.
func (m *Manager) Tick() bool {
	timeout := m.Timeout()
	if timeout <= 0 {
		return false
	}

	idleSince := m.LastPulse()
	if m.deferredAt.After(idleSince) {
		idleSince = m.deferredAt
	}
	if idleSince.IsZero() {
		// no pulse this boot: count from the first evaluation
		m.deferredAt = m.now()
		return false
	}
	if m.now().Sub(idleSince) < timeout {
		return false
	}

	// last chance to pick up a firmware image before a long sleep
	m.PreSleep()

	if m.line.Active() {
		// a pulse may be mid-flight; restart the clock instead of
		// racing it
		log.Debug().Msg("sensor line active, deferring deep sleep")
		m.deferredAt = m.now()
		return false
	}

	log.Info().Dur("idle", m.now().Sub(idleSince)).Msg("suspending into deep sleep")
	m.Shutdown()
	if err := m.sleeper.Suspend(); err != nil {
		// stay awake and run the full timeout again before retrying
		log.Error().Err(err).Msg("suspend failed")
		m.deferredAt = m.now()
		return false
	}
	return true
}
