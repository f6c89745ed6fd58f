package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mycyclingcity/tachod/internal/hw"
)

func newTestPlayer() (*Player, *hw.SimBuzzer, *hw.SimLED) {
	buzzer := &hw.SimBuzzer{}
	led := &hw.SimLED{}
	p := New(buzzer, led)
	p.pause = 0
	return p, buzzer, led
}

func TestStartupCue(t *testing.T) {
	p, buzzer, _ := newTestPlayer()
	p.Startup()
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}, buzzer.Beeps)
}

func TestWakeCue(t *testing.T) {
	p, buzzer, _ := newTestPlayer()
	p.Wake()
	assert.Equal(t, []time.Duration{
		150 * time.Millisecond,
		150 * time.Millisecond,
	}, buzzer.Beeps)
}

func TestTagDetectedCue(t *testing.T) {
	p, buzzer, _ := newTestPlayer()
	p.TagDetected()
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, buzzer.Beeps)
}

func TestActivityDrivesLED(t *testing.T) {
	p, _, led := newTestPlayer()
	p.Activity(true)
	assert.True(t, led.On())
	p.Activity(false)
	assert.False(t, led.On())
}
