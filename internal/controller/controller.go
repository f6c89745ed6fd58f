// Package controller is the top-level state machine: it decides between
// configuration and operational mode and sequences every component from a
// single cooperative control loop.
package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
	"github.com/mycyclingcity/tachod/internal/feedback"
	"github.com/mycyclingcity/tachod/internal/hw"
	"github.com/mycyclingcity/tachod/internal/netsync"
	"github.com/mycyclingcity/tachod/internal/portal"
	"github.com/mycyclingcity/tachod/internal/power"
	"github.com/mycyclingcity/tachod/internal/session"
	"github.com/mycyclingcity/tachod/internal/telemetry"
)

// Mode is the top-level operating mode. Exactly one is active; the only way
// back from Operational to Configuration is a full device reset.
type Mode int

const (
	ModeConfiguration Mode = iota
	ModeOperational
)

func (m Mode) String() string {
	if m == ModeOperational {
		return "operational"
	}
	return "configuration"
}

// WakeCause distinguishes a cold power-on from a sensor-triggered resume out
// of deep sleep.
type WakeCause int

const (
	ColdBoot WakeCause = iota
	SensorWake
)

func (w WakeCause) String() string {
	if w == SensorWake {
		return "sensor-wake"
	}
	return "cold-boot"
}

// tickPeriod paces the control loop. Everything the loop calls is bounded, so
// 100 ms keeps pulse sampling responsive without spinning.
const tickPeriod = 100 * time.Millisecond

// Parts collects the wired components the controller sequences.
type Parts struct {
	Radio     hw.Radio
	Counter   hw.PulseCounter
	Cues      *feedback.Player
	Telemetry *telemetry.Engine
	Session   *session.Manager
	Net       *netsync.Engine
	Power     *power.Manager
	Portal    *portal.Server
}

// Controller owns the main loop and the mode state machine.
type Controller struct {
	cfg   *config.Device
	store *config.Store
	parts Parts

	wake     WakeCause
	exitFlag bool // one-shot config-exit flag, consumed at boot
	mode     Mode

	// access-point parameters for configuration mode
	apSSID     string
	portalAddr string

	configEnteredAt time.Time
	entryTag        string

	lastSendAt time.Time

	now func() time.Time
}

// New builds the controller and decides the initial mode. A sensor wake with
// no pending config-exit flag resumes operation directly; anything else —
// including any missing critical configuration, regardless of wake cause —
// starts in configuration mode.
func New(cfg *config.Device, store *config.Store, wake WakeCause, exitFlag bool, apSSID, portalAddr string, parts Parts) *Controller {
	c := &Controller{
		cfg:        cfg,
		store:      store,
		parts:      parts,
		wake:       wake,
		exitFlag:   exitFlag,
		apSSID:     apSSID,
		portalAddr: portalAddr,
		now:        time.Now,
	}

	missing := cfg.CriticalMissing()
	switch {
	case len(missing) > 0:
		c.mode = ModeConfiguration
	case wake == SensorWake && !exitFlag:
		c.mode = ModeOperational
	default:
		c.mode = ModeConfiguration
	}
	log.Info().
		Str("wake", wake.String()).
		Bool("config_exit_pending", exitFlag).
		Str("mode", c.mode.String()).
		Msg("boot")
	return c
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode { return c.mode }

// Run plays the boot cue, enters the initial mode, and drives the control
// loop until the context is cancelled or the device suspends.
func (c *Controller) Run(ctx context.Context) error {
	if c.wake == SensorWake {
		c.parts.Cues.Wake()
	} else {
		c.parts.Cues.Startup()
	}

	c.parts.Session.SetDefault(c.cfg.DefaultTag)

	if c.mode == ModeConfiguration {
		c.enterConfigMode()
	} else {
		c.enterOperational()
	}

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		case <-ticker.C:
			if c.Tick() {
				return nil
			}
		}
	}
}

// Tick runs one iteration of the current mode. It returns true once the
// device has been suspended and the loop should stop.
func (c *Controller) Tick() bool {
	if c.mode == ModeConfiguration {
		c.configTick()
		return false
	}
	return c.operationalTick()
}

func (c *Controller) enterConfigMode() {
	log.Info().Str("ssid", c.apSSID).Msg("entering configuration mode")

	// pulses before mode entry must not count as "rider wants to ride"
	c.parts.Counter.Clear()
	c.entryTag = c.parts.Session.Active()
	c.configEnteredAt = c.now()

	if err := c.parts.Radio.StartAccessPoint(c.apSSID, portal.DefaultAccessPassword); err != nil {
		log.Error().Err(err).Msg("failed to start access point")
	}
	c.parts.Portal.Start(c.portalAddr)
}

// configTick evaluates the exit conditions in order; the first match wins.
func (c *Controller) configTick() {
	c.parts.Session.Tick()

	switch {
	case c.parts.Session.Active() != c.entryTag:
		log.Info().Str("tag", c.parts.Session.Active()).Msg("tag changed, leaving configuration mode")
		c.exitConfigMode()

	case c.parts.Counter.Count() > 0:
		log.Info().Msg("pedal stroke detected, leaving configuration mode")
		c.exitConfigMode()

	case c.now().Sub(c.configEnteredAt) >= config.ConfigModeTimeoutSec*time.Second:
		// portal saves land in the store; re-resolve before judging
		if err := c.cfg.Reload(c.store); err != nil {
			log.Error().Err(err).Msg("failed to reload configuration")
		}
		if len(c.cfg.CriticalMissing()) == 0 {
			log.Info().Msg("configuration complete, leaving configuration mode")
			c.exitConfigMode()
			return
		}
		// never leave with incomplete configuration; run the timer again
		log.Warn().Msg("configuration still incomplete, staying in configuration mode")
		c.configEnteredAt = c.now()
	}
}

// exitConfigMode tears the portal and access point down, switches the radio
// to client mode, and hands over to operational mode.
func (c *Controller) exitConfigMode() {
	c.parts.Portal.Stop()
	if err := c.parts.Radio.StopAccessPoint(); err != nil {
		log.Warn().Err(err).Msg("failed to stop access point")
	}

	// the portal writes through the store; pick its edits up before the
	// radio needs the credentials
	if err := c.cfg.Reload(c.store); err != nil {
		log.Error().Err(err).Msg("failed to reload configuration")
	}

	// forget sync history so the current identity counts as new
	c.parts.Session.ClearSync()
	// pick up a default tag changed through the portal, but never displace a
	// radio-detected rider
	if c.parts.Session.Origin() == session.FromDefaultConfig {
		c.parts.Session.SetDefault(c.cfg.DefaultTag)
	}

	c.mode = ModeOperational
	c.enterOperational()
}

func (c *Controller) enterOperational() {
	log.Info().Msg("entering operational mode")
	c.lastSendAt = c.now()
	c.parts.Net.Connect()
}

// operationalTick runs the fixed component order: session, telemetry, network
// sync, power. Returns true when the power manager suspended the device.
func (c *Controller) operationalTick() bool {
	c.parts.Session.Tick()
	c.parts.Telemetry.Sample()

	if !c.parts.Net.Connected() && !c.parts.Net.FailedPermanently() {
		c.parts.Net.Connect()
	}

	c.maybeSend()
	c.parts.Net.TickMaintenance()

	return c.parts.Power.Tick()
}

// maybeSend uploads telemetry on the configured cadence. In test mode the
// engine substitutes the simulated distance and the test identity; otherwise
// an interval with no new pulses sends nothing.
func (c *Controller) maybeSend() {
	interval := time.Duration(c.cfg.SendSec) * time.Second
	if c.cfg.TestMode {
		interval = time.Duration(c.cfg.TestSec) * time.Second
	}
	if interval <= 0 || c.now().Sub(c.lastSendAt) < interval {
		return
	}
	c.lastSendAt = c.now()

	if c.cfg.TestMode {
		c.parts.Net.SendTelemetry(0, 0, 0, true)
		return
	}

	pulses, distanceMM := c.parts.Telemetry.SinceUpload()
	if pulses <= 0 {
		return
	}
	out := c.parts.Net.SendTelemetry(c.parts.Telemetry.Speed(), distanceMM, pulses, false)
	if out.OK() {
		c.parts.Telemetry.MarkUploaded()
		c.parts.Session.MarkSynced(c.parts.Session.Active())
	}
}

// teardown releases mode-specific resources on context cancellation.
func (c *Controller) teardown() {
	if c.mode == ModeConfiguration {
		c.parts.Portal.Stop()
		if err := c.parts.Radio.StopAccessPoint(); err != nil {
			log.Warn().Err(err).Msg("failed to stop access point")
		}
	}
	c.parts.Radio.Disconnect()
}
