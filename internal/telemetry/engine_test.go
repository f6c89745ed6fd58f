package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mycyclingcity/tachod/internal/hw"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine() (*Engine, *hw.SimCounter, *fakeClock) {
	counter := &hw.SimCounter{}
	e := NewEngine(counter, &hw.SimLED{})
	e.WheelMM = func() float64 { return 2075 }
	e.blinkHold = 0
	clk := newFakeClock()
	e.now = clk.now
	return e, counter, clk
}

func TestSampleAccumulatesDistance(t *testing.T) {
	e, counter, _ := newTestEngine()

	counter.Pulse(10)
	e.Sample()

	assert.InDelta(t, 20750.0, e.DistanceMM(), 0.001)
}

func TestSampleWithoutNewPulsesIsNoop(t *testing.T) {
	e, counter, clk := newTestEngine()

	counter.Pulse(3)
	e.Sample()
	before := e.LastPulse()

	clk.advance(time.Second)
	e.Sample()

	assert.Equal(t, before, e.LastPulse())
	assert.InDelta(t, 3*2075.0, e.DistanceMM(), 0.001)
}

func TestSpeedFromPulseInterval(t *testing.T) {
	e, counter, clk := newTestEngine()

	// first pulse establishes the timestamp; its speed sample is zero
	counter.Pulse(1)
	e.Sample()

	// six more pulses at 500 ms each push the zero out of the window
	for i := 0; i < 6; i++ {
		clk.advance(500 * time.Millisecond)
		counter.Pulse(1)
		e.Sample()
	}

	// 2075 mm / 500 ms = 4.15 m/s = 14.94 km/h
	assert.InDelta(t, 14.94, e.Speed(), 0.001)
}

func TestSubMillisecondGapStaysFinite(t *testing.T) {
	e, counter, clk := newTestEngine()

	counter.Pulse(1)
	e.Sample()
	clk.advance(500 * time.Microsecond)
	counter.Pulse(1)
	e.Sample()

	assert.False(t, math.IsInf(e.Speed(), 1))
	assert.False(t, math.IsNaN(e.Speed()))
	assert.Positive(t, e.Speed())
}

func TestLongGapCountsAsStandstill(t *testing.T) {
	e, counter, clk := newTestEngine()

	counter.Pulse(1)
	e.Sample()
	clk.advance(6 * time.Second)
	counter.Pulse(1)
	e.Sample()

	assert.Zero(t, e.Speed())
}

func TestSpeedAveragesFilledSlots(t *testing.T) {
	e, _, _ := newTestEngine()

	e.push(10)
	e.push(20)
	e.push(30)
	assert.InDelta(t, 20.0, e.Speed(), 0.001)

	// overflow evicts the oldest samples
	e.push(40)
	e.push(50)
	e.push(60)
	assert.InDelta(t, (20.0+30+40+50+60)/5, e.Speed(), 0.001)
}

func TestResetClearsEverything(t *testing.T) {
	e, counter, clk := newTestEngine()

	counter.Pulse(5)
	e.Sample()
	clk.advance(500 * time.Millisecond)
	counter.Pulse(1)
	e.Sample()
	e.MarkUploaded()

	e.Reset()

	assert.Zero(t, e.DistanceMM())
	assert.Zero(t, e.Speed())
	assert.Zero(t, counter.Count())
	pulses, dist := e.SinceUpload()
	assert.Zero(t, pulses)
	assert.Zero(t, dist)
}

func TestSinceUploadTracksBaseline(t *testing.T) {
	e, counter, _ := newTestEngine()

	counter.Pulse(4)
	e.Sample()
	pulses, dist := e.SinceUpload()
	assert.Equal(t, 4, pulses)
	assert.InDelta(t, 4*2075.0, dist, 0.001)

	e.MarkUploaded()
	pulses, _ = e.SinceUpload()
	assert.Zero(t, pulses)

	counter.Pulse(2)
	e.Sample()
	pulses, dist = e.SinceUpload()
	assert.Equal(t, 2, pulses)
	assert.InDelta(t, 2*2075.0, dist, 0.001)
}

func TestLEDBlipsOnPulse(t *testing.T) {
	counter := &hw.SimCounter{}
	led := &hw.SimLED{}
	e := NewEngine(counter, led)
	e.WheelMM = func() float64 { return 2075 }
	e.LEDEnabled = func() bool { return true }
	e.blinkHold = 0

	counter.Pulse(1)
	e.Sample()

	assert.Equal(t, 1, led.Blips)
	assert.False(t, led.On())
}
