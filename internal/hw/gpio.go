package hw

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"time"
)

// SysfsLine reads a GPIO level through the sysfs value file
// (/sys/class/gpio/gpioN/value). The sensor input is wired with a pull-up, so
// the electrical idle level is high; ActiveLow inverts the reading to match.
type SysfsLine struct {
	Path      string
	ActiveLow bool
}

func (l *SysfsLine) Active() bool {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return false
	}
	high := len(raw) > 0 && bytes.TrimSpace(raw)[0] == '1'
	if l.ActiveLow {
		return !high
	}
	return high
}

// EdgeCounter counts active transitions on a line. The counting goroutine
// stands in for the hardware pulse counter peripheral: it mutates the count
// outside the controller loop, which only ever reads and clears it.
type EdgeCounter struct {
	n      atomic.Int64
	cancel context.CancelFunc
}

// NewEdgeCounter samples line every period and increments on each
// inactive-to-active transition. Sampling at 1 ms covers wheel pulses up to
// well beyond plausible rider speed.
func NewEdgeCounter(line Line, period time.Duration) *EdgeCounter {
	if period <= 0 {
		period = time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &EdgeCounter{cancel: cancel}
	prev := line.Active()
	go func() {
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				cur := line.Active()
				if cur && !prev {
					c.n.Add(1)
				}
				prev = cur
			}
		}
	}()
	return c
}

func (c *EdgeCounter) Count() int { return int(c.n.Load()) }

func (c *EdgeCounter) Clear() { c.n.Store(0) }

// Stop ends the sampling goroutine.
func (c *EdgeCounter) Stop() { c.cancel() }

// FileLED drives an LED through a sysfs brightness or GPIO value file.
type FileLED struct {
	Path string
}

func (l *FileLED) Set(on bool) {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	_ = os.WriteFile(l.Path, v, 0o644)
}

// FileBuzzer drives an active buzzer wired to a GPIO value file.
type FileBuzzer struct {
	Path string
}

func (b *FileBuzzer) Beep(d time.Duration) {
	_ = os.WriteFile(b.Path, []byte("1"), 0o644)
	time.Sleep(d)
	_ = os.WriteFile(b.Path, []byte("0"), 0o644)
}
