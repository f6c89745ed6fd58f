// Package telemetry turns raw wheel-pulse counts into cumulative distance and
// a smoothed speed.
package telemetry

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/hw"
)

// speedSlots is the rolling-average window. Five pulses cover roughly ten
// metres of travel, enough to settle jitter without hiding real changes.
const speedSlots = 5

// pulseValidWindow bounds the inter-pulse delta used for speed. Anything
// longer counts as a standstill and pushes a zero sample.
const pulseValidWindow = 5000 * time.Millisecond

// Engine samples the hardware pulse counter and maintains distance and speed
// for the active rider session. It is driven from the single control loop;
// nothing here is safe for concurrent use.
type Engine struct {
	counter hw.PulseCounter
	led     hw.LED

	// WheelMM and LEDEnabled read live configuration each sample.
	WheelMM    func() float64
	LEDEnabled func() bool

	now       func() time.Time
	blinkHold time.Duration

	distanceMM  float64
	lastCount   int
	lastPulseAt time.Time
	uploadedAt  int // counter value at the last successful upload
	ring        [speedSlots]float64
	ringFill    int
	ringNext    int
}

func NewEngine(counter hw.PulseCounter, led hw.LED) *Engine {
	return &Engine{
		counter:    counter,
		led:        led,
		WheelMM:    func() float64 { return 0 },
		LEDEnabled: func() bool { return false },
		now:        time.Now,
		blinkHold:  50 * time.Millisecond,
	}
}

// Sample reads the hardware counter. With no new pulses it is a no-op.
// Otherwise it recomputes cumulative distance, derives an instantaneous speed
// from the inter-pulse delta, folds it into the rolling window, and blips the
// LED.
func (e *Engine) Sample() {
	count := e.counter.Count()
	if count == e.lastCount {
		return
	}

	now := e.now()
	wheel := e.WheelMM()
	e.distanceMM = float64(count) * wheel

	var kmh float64
	if !e.lastPulseAt.IsZero() {
		delta := now.Sub(e.lastPulseAt)
		if delta > 0 && delta < pulseValidWindow {
			// mm/s → m/s → ×3.6 km/h; Seconds keeps sub-ms deltas finite
			kmh = wheel / 1000 / delta.Seconds() * 3.6
		}
	}
	e.push(kmh)

	e.lastCount = count
	e.lastPulseAt = now

	log.Debug().
		Int("pulses", count).
		Float64("distance_mm", e.distanceMM).
		Float64("speed_kmh", e.Speed()).
		Msg("pulse sampled")

	if e.LEDEnabled() {
		e.led.Set(true)
		time.Sleep(e.blinkHold)
		e.led.Set(false)
	}
}

// Reset zeroes distance, the speed window, the upload baseline, and the
// hardware counter. Called on a rider change; within the single-threaded loop
// the three resets are indivisible.
func (e *Engine) Reset() {
	e.distanceMM = 0
	e.lastCount = 0
	e.uploadedAt = 0
	e.ring = [speedSlots]float64{}
	e.ringFill = 0
	e.ringNext = 0
	e.counter.Clear()
	log.Debug().Msg("telemetry reset")
}

func (e *Engine) push(kmh float64) {
	e.ring[e.ringNext] = kmh
	e.ringNext = (e.ringNext + 1) % speedSlots
	if e.ringFill < speedSlots {
		e.ringFill++
	}
}

// Speed reports the mean of the filled rolling-window slots in km/h.
func (e *Engine) Speed() float64 {
	if e.ringFill == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < e.ringFill; i++ {
		sum += e.ring[i]
	}
	return sum / float64(e.ringFill)
}

// DistanceMM is the cumulative distance since the last reset.
func (e *Engine) DistanceMM() float64 { return e.distanceMM }

// LastPulse is when the most recent pulse was observed; zero before the
// first one.
func (e *Engine) LastPulse() time.Time { return e.lastPulseAt }

// SinceUpload reports the pulses and distance accumulated since the last
// successful telemetry upload.
func (e *Engine) SinceUpload() (pulses int, distanceMM float64) {
	pulses = e.lastCount - e.uploadedAt
	return pulses, float64(pulses) * e.WheelMM()
}

// MarkUploaded records the current counter value as the upload baseline.
func (e *Engine) MarkUploaded() {
	e.uploadedAt = e.lastCount
}
