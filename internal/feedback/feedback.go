// Package feedback plays the device's audible and visible cues. Tone
// sequences match the installed fleet: riders are used to them.
package feedback

import (
	"time"

	"github.com/mycyclingcity/tachod/internal/hw"
)

// Player sequences buzzer and LED cues. All cues block for the length of the
// tone sequence, which is bounded and short.
type Player struct {
	buzzer hw.Buzzer
	led    hw.LED

	// pause separates tones within a sequence; a field so tests can zero it.
	pause time.Duration
}

func New(buzzer hw.Buzzer, led hw.LED) *Player {
	return &Player{buzzer: buzzer, led: led, pause: 100 * time.Millisecond}
}

// Startup plays three short beeps: restart after power-on.
func (p *Player) Startup() {
	p.buzzer.Beep(100 * time.Millisecond)
	time.Sleep(p.pause)
	p.buzzer.Beep(100 * time.Millisecond)
	time.Sleep(p.pause)
	p.buzzer.Beep(100 * time.Millisecond)
}

// Wake plays two short beeps: resumed from deep sleep.
func (p *Player) Wake() {
	p.buzzer.Beep(150 * time.Millisecond)
	time.Sleep(p.pause)
	p.buzzer.Beep(150 * time.Millisecond)
}

// TagDetected plays one long beep: a rider identity was recognised.
func (p *Player) TagDetected() {
	p.buzzer.Beep(500 * time.Millisecond)
}

// Activity turns the LED on or off around network transfers.
func (p *Player) Activity(on bool) {
	p.led.Set(on)
}
