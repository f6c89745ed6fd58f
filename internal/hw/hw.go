package hw

import "time"

// PulseCounter is the hardware wheel-pulse counter. It is incremented by the
// sensor edge outside the controller's control flow; the controller only reads
// and clears it.
type PulseCounter interface {
	Count() int
	Clear()
}

// Line exposes the raw level of the sensor input. Active means a pulse may be
// in flight right now.
type Line interface {
	Active() bool
}

// LED is a single indicator output.
type LED interface {
	Set(on bool)
}

// Buzzer drives the feedback buzzer for a bounded duration.
type Buzzer interface {
	Beep(d time.Duration)
}

// TagReader polls the RFID reader. Poll never blocks; it returns the UID of a
// freshly presented tag, or ok=false when no new tag has been seen since the
// last call.
type TagReader interface {
	Poll() (uid string, ok bool)
}

// Radio owns the wireless interface. Connect associates in client mode and
// blocks up to timeout.
type Radio interface {
	Connect(ssid, password string, timeout time.Duration) error
	Disconnect()
	Connected() bool
	StartAccessPoint(ssid, password string) error
	StopAccessPoint() error
}

// Sleeper suspends the node. Suspend powers down peripherals, arms the wake
// trigger on the sensor line going active, and halts execution; on resume the
// process restarts from its entry point, so Suspend returns only on failure.
type Sleeper interface {
	Suspend() error
}
