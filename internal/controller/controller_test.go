package controller

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycyclingcity/tachod/internal/config"
	"github.com/mycyclingcity/tachod/internal/feedback"
	"github.com/mycyclingcity/tachod/internal/hw"
	"github.com/mycyclingcity/tachod/internal/netsync"
	"github.com/mycyclingcity/tachod/internal/portal"
	"github.com/mycyclingcity/tachod/internal/power"
	"github.com/mycyclingcity/tachod/internal/session"
	"github.com/mycyclingcity/tachod/internal/telemetry"
)

// rig wires a controller with simulated hardware against a permissive
// backend double.
type rig struct {
	ctrl    *Controller
	cfg     *config.Device
	store   *config.Store
	counter *hw.SimCounter
	line    *hw.SimLine
	radio   *hw.SimRadio
	reader  *hw.SimTagReader
	sleeper *hw.SimSleeper
	paths   func() []string
	clk     *time.Time
}

func newRig(t *testing.T, wake WakeCause, exitFlag bool) *rig {
	t.Helper()

	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "{}")
	}))
	t.Cleanup(srv.Close)

	store, err := config.OpenStore(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)

	// seed the store like a provisioned device: the loop re-resolves its
	// configuration from here whenever the portal may have written
	store.Set(config.KeyWifiSSID, "velodrome")
	store.Set(config.KeyDeviceName, "MCC")
	store.Set(config.KeyDefaultTag, "TAG1")
	store.Set(config.KeyWheelSize, 2075.0)
	store.Set(config.KeyServerURL, srv.URL)
	store.Set(config.KeyAPIKey, "key")
	store.Set(config.KeySendInterval, 30)
	store.Set(config.KeyDeepSleep, 300)
	store.Set(config.KeyConfigFetch, 3600)
	require.NoError(t, store.Save())

	cfg, err := config.Load(store)
	require.NoError(t, err)

	counter := &hw.SimCounter{}
	line := &hw.SimLine{}
	led := &hw.SimLED{}
	buzzer := &hw.SimBuzzer{}
	radio := &hw.SimRadio{}
	reader := &hw.SimTagReader{}
	sleeper := &hw.SimSleeper{}

	cues := feedback.New(buzzer, led)

	tele := telemetry.NewEngine(counter, led)
	tele.WheelMM = func() float64 { return cfg.WheelSizeMM }

	net := netsync.NewEngine(cfg, store, radio, "A1B2")
	sess := session.NewManager(reader, tele, net, cues)
	net.ActiveTag = sess.Active

	pwr := power.NewManager(line, sleeper)
	pwr.Timeout = func() time.Duration { return time.Duration(cfg.DeepSleepSec) * time.Second }
	pwr.LastPulse = tele.LastPulse

	srv2 := portal.NewServer(store)

	ctrl := New(cfg, store, wake, exitFlag, "MCC-Tachometer_A1B2", "127.0.0.1:0", Parts{
		Radio:     radio,
		Counter:   counter,
		Cues:      cues,
		Telemetry: tele,
		Session:   sess,
		Net:       net,
		Power:     pwr,
		Portal:    srv2,
	})

	clk := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return clk }

	sess.SetDefault(cfg.DefaultTag)

	return &rig{
		ctrl:    ctrl,
		cfg:     cfg,
		store:   store,
		counter: counter,
		line:    line,
		radio:   radio,
		reader:  reader,
		sleeper: sleeper,
		paths: func() []string {
			mu.Lock()
			defer mu.Unlock()
			out := make([]string, len(paths))
			copy(out, paths)
			return out
		},
		clk: &clk,
	}
}

func TestInitialModeColdBoot(t *testing.T) {
	r := newRig(t, ColdBoot, false)
	assert.Equal(t, ModeConfiguration, r.ctrl.Mode())
}

func TestInitialModeSensorWake(t *testing.T) {
	r := newRig(t, SensorWake, false)
	assert.Equal(t, ModeOperational, r.ctrl.Mode())
}

func TestPendingExitFlagBlocksDirectResume(t *testing.T) {
	r := newRig(t, SensorWake, true)
	assert.Equal(t, ModeConfiguration, r.ctrl.Mode())
}

func TestMissingConfigForcesConfigurationMode(t *testing.T) {
	r := newRig(t, SensorWake, false)
	r.cfg.DefaultTag = ""
	ctrl := New(r.cfg, r.store, SensorWake, false, "ap", "127.0.0.1:0", r.ctrl.parts)
	assert.Equal(t, ModeConfiguration, ctrl.Mode())
}

func TestConfigModeExitsOnTagChange(t *testing.T) {
	r := newRig(t, ColdBoot, false)
	r.ctrl.enterConfigMode()
	defer r.ctrl.parts.Portal.Stop()
	assert.True(t, r.radio.AccessPoint())

	r.reader.Present("CAFE01")
	r.ctrl.Tick()

	assert.Equal(t, ModeOperational, r.ctrl.Mode())
	assert.False(t, r.radio.AccessPoint())
	assert.True(t, r.radio.Connected())
}

func TestConfigModeExitsOnPedalStroke(t *testing.T) {
	r := newRig(t, ColdBoot, false)
	r.ctrl.enterConfigMode()
	defer r.ctrl.parts.Portal.Stop()

	r.counter.Pulse(1)
	r.ctrl.Tick()

	assert.Equal(t, ModeOperational, r.ctrl.Mode())
}

func TestConfigModeEntryClearsStalePulses(t *testing.T) {
	r := newRig(t, ColdBoot, false)

	// pulses from before mode entry must not trigger the exit condition
	r.counter.Pulse(3)
	r.ctrl.enterConfigMode()
	defer r.ctrl.parts.Portal.Stop()

	r.ctrl.Tick()
	assert.Equal(t, ModeConfiguration, r.ctrl.Mode())
}

func TestConfigModeTimeoutWithCompleteConfig(t *testing.T) {
	r := newRig(t, ColdBoot, false)
	r.ctrl.enterConfigMode()
	defer r.ctrl.parts.Portal.Stop()

	*r.clk = r.clk.Add(config.ConfigModeTimeoutSec*time.Second + time.Second)
	r.ctrl.Tick()

	assert.Equal(t, ModeOperational, r.ctrl.Mode())
}

func TestConfigModeTimeoutWithMissingConfigStays(t *testing.T) {
	r := newRig(t, ColdBoot, false)
	r.store.Delete(config.KeyDefaultTag)
	require.NoError(t, r.store.Save())
	r.ctrl.enterConfigMode()
	defer r.ctrl.parts.Portal.Stop()

	*r.clk = r.clk.Add(config.ConfigModeTimeoutSec*time.Second + time.Second)
	r.ctrl.Tick()
	assert.Equal(t, ModeConfiguration, r.ctrl.Mode())

	// the timer restarted: completing the config now exits on the next round
	r.store.Set(config.KeyDefaultTag, "TAG1")
	require.NoError(t, r.store.Save())
	r.ctrl.Tick()
	assert.Equal(t, ModeConfiguration, r.ctrl.Mode())
	*r.clk = r.clk.Add(config.ConfigModeTimeoutSec*time.Second + time.Second)
	r.ctrl.Tick()
	assert.Equal(t, ModeOperational, r.ctrl.Mode())
}

func TestConfigModeExitAppliesPortalEdits(t *testing.T) {
	r := newRig(t, ColdBoot, false)
	r.ctrl.enterConfigMode()
	defer r.ctrl.parts.Portal.Stop()

	// portal saves land in the store only; the loop must pick them up
	// when it leaves configuration mode
	r.store.Set(config.KeyDefaultTag, "TAG9")
	r.store.Set(config.KeyWheelSize, 2100.0)
	require.NoError(t, r.store.Save())

	*r.clk = r.clk.Add(config.ConfigModeTimeoutSec*time.Second + time.Second)
	r.ctrl.Tick()

	assert.Equal(t, ModeOperational, r.ctrl.Mode())
	assert.Equal(t, "TAG9", r.cfg.DefaultTag)
	assert.InDelta(t, 2100.0, r.cfg.WheelSizeMM, 0.001)
}

func TestOperationalSendsTelemetryOnCadence(t *testing.T) {
	r := newRig(t, SensorWake, false)
	r.ctrl.enterOperational()

	// first tick runs the rider-change protocol, which resets telemetry
	r.ctrl.Tick()

	r.counter.Pulse(5)
	r.ctrl.Tick()
	assert.NotContains(t, r.paths(), "/api/update-data")

	*r.clk = r.clk.Add(31 * time.Second)
	r.ctrl.Tick()
	assert.Contains(t, r.paths(), "/api/update-data")

	// the upload baseline moved; an empty interval sends nothing
	uploads := countPath(r.paths(), "/api/update-data")
	*r.clk = r.clk.Add(31 * time.Second)
	r.ctrl.Tick()
	assert.Equal(t, uploads, countPath(r.paths(), "/api/update-data"))
}

func countPath(paths []string, want string) int {
	n := 0
	for _, p := range paths {
		if p == want {
			n++
		}
	}
	return n
}

func TestOperationalTestModeSendsWithoutPulses(t *testing.T) {
	r := newRig(t, SensorWake, false)
	r.cfg.TestMode = true
	r.ctrl.enterOperational()

	*r.clk = r.clk.Add(6 * time.Second)
	r.ctrl.Tick()

	assert.Contains(t, r.paths(), "/api/update-data")
}

func TestOperationalHeartbeatOncePerProcess(t *testing.T) {
	r := newRig(t, SensorWake, false)
	r.ctrl.enterOperational()
	assert.Equal(t, 1, countPath(r.paths(), "/api/device/heartbeat"))

	// a dropped association forces a fresh connect, but the liveness
	// signal is not repeated within the same process lifetime
	r.radio.Disconnect()
	r.ctrl.enterOperational()
	assert.Equal(t, 1, countPath(r.paths(), "/api/device/heartbeat"))
}
