package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
	"github.com/mycyclingcity/tachod/internal/controller"
	"github.com/mycyclingcity/tachod/internal/feedback"
	"github.com/mycyclingcity/tachod/internal/hw"
	"github.com/mycyclingcity/tachod/internal/identity"
	"github.com/mycyclingcity/tachod/internal/netsync"
	"github.com/mycyclingcity/tachod/internal/portal"
	"github.com/mycyclingcity/tachod/internal/power"
	"github.com/mycyclingcity/tachod/internal/session"
	"github.com/mycyclingcity/tachod/internal/telemetry"
	"github.com/mycyclingcity/tachod/internal/version"
)

func main() {
	var (
		storePath   = flag.String("config", "/var/lib/tachod/config.yml", "configuration store path")
		logLevel    = flag.String("log-level", "", "log level override (debug, info, warn, error)")
		sim         = flag.Bool("sim", false, "run with simulated hardware")
		sensorPath  = flag.String("sensor", "/sys/class/gpio/gpio17/value", "sensor line value file")
		activeLow   = flag.Bool("active-low", true, "sensor line is active-low")
		ledPath     = flag.String("led", "/sys/class/leds/tachod/brightness", "LED value file")
		buzzerPath  = flag.String("buzzer", "/sys/class/gpio/gpio22/value", "buzzer value file")
		tagPath     = flag.String("tags", "/var/run/tachod/tags", "RFID reader FIFO")
		wifiIface   = flag.String("wifi-iface", "wlan0", "wireless interface")
		portalAddr  = flag.String("portal-addr", ":80", "configuration portal listen address")
		markerPath  = flag.String("wake-marker", "/var/lib/tachod/wake-marker", "wake marker file")
		suspendCmd  = flag.String("suspend-cmd", "systemctl suspend", "suspend command")
		stagingPath = flag.String("firmware-staging", "/var/lib/tachod/firmware.next", "staged firmware image path")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	store, err := config.OpenStore(*storePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *storePath).Msg("failed to open configuration store")
	}

	// one-shot flag set by a portal save before restart; consumed here
	exitFlag, err := store.TakeFlag(config.KeyConfigExit)
	if err != nil {
		log.Warn().Err(err).Msg("failed to clear config-exit flag")
	}
	wake := detectWake(*markerPath)

	cfg, err := config.Load(store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve configuration")
	}
	applyLogLevel(cfg, *logLevel)

	suffix := identity.Suffix(store)
	log.Info().
		Str("device_id", cfg.DeviceID(suffix)).
		Str("firmware", version.Current(store)).
		Msg("tachometer node starting")

	parts, cleanup := buildHardware(*sim, hwPaths{
		sensor:     *sensorPath,
		activeLow:  *activeLow,
		led:        *ledPath,
		buzzer:     *buzzerPath,
		tags:       *tagPath,
		iface:      *wifiIface,
		wakeMarker: *markerPath,
		suspendCmd: *suspendCmd,
	})
	defer cleanup()

	cues := feedback.New(parts.buzzer, parts.led)

	tele := telemetry.NewEngine(parts.counter, parts.led)
	tele.WheelMM = func() float64 { return cfg.WheelSizeMM }
	tele.LEDEnabled = func() bool { return cfg.LEDEnabled }

	net := netsync.NewEngine(cfg, store, parts.radio, suffix)
	net.Activity = cues.Activity
	net.ApplyFirmware = stageFirmware(*stagingPath)
	net.Restart = restart

	sess := session.NewManager(parts.tags, tele, net, cues)
	net.ActiveTag = sess.Active

	pwr := power.NewManager(parts.line, parts.sleeper)
	pwr.Timeout = func() time.Duration { return time.Duration(cfg.DeepSleepSec) * time.Second }
	pwr.LastPulse = tele.LastPulse
	pwr.PreSleep = func() { net.CheckFirmwareUpdate() }
	pwr.Shutdown = func() {
		parts.led.Set(false)
		parts.radio.Disconnect()
	}

	srv := portal.NewServer(store)
	srv.ApplyFirmware = func(data []byte) error {
		return stageFirmware(*stagingPath)(bytes.NewReader(data), int64(len(data)))
	}
	srv.Restart = restart

	ctrl := controller.New(cfg, store, wake, exitFlag, "MCC-Tachometer_"+suffix, *portalAddr, controller.Parts{
		Radio:     parts.radio,
		Counter:   parts.counter,
		Cues:      cues,
		Telemetry: tele,
		Session:   sess,
		Net:       net,
		Power:     pwr,
		Portal:    srv,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("control loop failed")
		os.Exit(1)
	}
	log.Info().Msg("tachometer node stopped")
}

// hwPaths bundles the real-hardware wiring parameters.
type hwPaths struct {
	sensor     string
	activeLow  bool
	led        string
	buzzer     string
	tags       string
	iface      string
	wakeMarker string
	suspendCmd string
}

// hardwareParts is the assembled hardware surface, real or simulated.
type hardwareParts struct {
	line    hw.Line
	counter hw.PulseCounter
	led     hw.LED
	buzzer  hw.Buzzer
	tags    hw.TagReader
	radio   hw.Radio
	sleeper hw.Sleeper
}

func buildHardware(sim bool, p hwPaths) (hardwareParts, func()) {
	if sim {
		log.Warn().Msg("running with simulated hardware")
		return hardwareParts{
			line:    &hw.SimLine{},
			counter: &hw.SimCounter{},
			led:     &hw.SimLED{},
			buzzer:  &hw.SimBuzzer{},
			tags:    &hw.SimTagReader{},
			radio:   &hw.SimRadio{},
			sleeper: &hw.SimSleeper{},
		}, func() {}
	}

	line := &hw.SysfsLine{Path: p.sensor, ActiveLow: p.activeLow}
	counter := hw.NewEdgeCounter(line, time.Millisecond)

	tags, err := hw.NewLineTagReader(p.tags)
	if err != nil {
		log.Fatal().Err(err).Str("path", p.tags).Msg("failed to open tag reader")
	}

	parts := hardwareParts{
		line:    line,
		counter: counter,
		led:     &hw.FileLED{Path: p.led},
		buzzer:  &hw.FileBuzzer{Path: p.buzzer},
		tags:    tags,
		radio:   &hw.CommandRadio{Iface: p.iface},
		sleeper: &hw.CommandSleeper{
			MarkerPath: p.wakeMarker,
			Command:    strings.Fields(p.suspendCmd),
		},
	}
	return parts, func() {
		counter.Stop()
		tags.Close()
	}
}

// detectWake distinguishes a sensor-triggered resume from a cold boot. The
// sleeper writes the marker right before suspension; finding it on start
// means we are resuming.
func detectWake(markerPath string) controller.WakeCause {
	if _, err := os.Stat(markerPath); err == nil {
		_ = os.Remove(markerPath)
		return controller.SensorWake
	}
	return controller.ColdBoot
}

// applyLogLevel sets the global level: an explicit flag wins, otherwise the
// persisted debug setting decides between debug and info.
func applyLogLevel(cfg *config.Device, override string) {
	if override != "" {
		level, err := zerolog.ParseLevel(override)
		if err != nil {
			log.Warn().Str("level", override).Msg("invalid log level, using info")
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		return
	}
	if cfg.DebugEnabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// stageFirmware writes a downloaded image next to the staging path and
// renames it into place, so a half-written image is never picked up by the
// boot-time updater.
func stageFirmware(path string) func(io.Reader, int64) error {
	return func(r io.Reader, size int64) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create staging dir: %w", err)
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), ".fw-*")
		if err != nil {
			return fmt.Errorf("create staging file: %w", err)
		}
		n, err := io.Copy(tmp, r)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("write firmware image: %w", err)
		}
		if size > 0 && n != size {
			os.Remove(tmp.Name())
			return fmt.Errorf("short firmware image: got %d of %d bytes", n, size)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("stage firmware image: %w", err)
		}
		return nil
	}
}

// restart exits cleanly; the process supervisor brings the node back up,
// picking up any staged firmware on the way.
func restart() {
	log.Info().Msg("restarting")
	os.Exit(0)
}
