package hw

import (
	"sync"
	"time"
)

// SimCounter is an in-memory PulseCounter. Pulse may be called from another
// goroutine, mirroring the hardware counter's behaviour.
type SimCounter struct {
	mu sync.Mutex
	n  int
}

func (c *SimCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *SimCounter) Clear() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
}

// Pulse increments the counter by n edges.
func (c *SimCounter) Pulse(n int) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

// SimLine is a settable sensor line level.
type SimLine struct {
	mu    sync.Mutex
	level bool
}

func (l *SimLine) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *SimLine) SetActive(v bool) {
	l.mu.Lock()
	l.level = v
	l.mu.Unlock()
}

// SimLED records state changes.
type SimLED struct {
	mu    sync.Mutex
	on    bool
	Blips int
}

func (l *SimLED) Set(on bool) {
	l.mu.Lock()
	if on && !l.on {
		l.Blips++
	}
	l.on = on
	l.mu.Unlock()
}

func (l *SimLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// SimBuzzer records beep durations instead of making noise.
type SimBuzzer struct {
	mu    sync.Mutex
	Beeps []time.Duration
}

func (b *SimBuzzer) Beep(d time.Duration) {
	b.mu.Lock()
	b.Beeps = append(b.Beeps, d)
	b.mu.Unlock()
}

// SimTagReader replays queued tag UIDs, one per Poll.
type SimTagReader struct {
	mu   sync.Mutex
	uids []string
}

func (r *SimTagReader) Present(uid string) {
	r.mu.Lock()
	r.uids = append(r.uids, uid)
	r.mu.Unlock()
}

func (r *SimTagReader) Poll() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.uids) == 0 {
		return "", false
	}
	uid := r.uids[0]
	r.uids = r.uids[1:]
	return uid, true
}

// SimRadio tracks association state without touching an interface.
type SimRadio struct {
	mu        sync.Mutex
	connected bool
	ap        bool

	// ConnectErr, when set, makes Connect fail.
	ConnectErr error
	Connects   int
	LastSSID   string
}

func (r *SimRadio) Connect(ssid, password string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Connects++
	r.LastSSID = ssid
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.connected = true
	return nil
}

func (r *SimRadio) Disconnect() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

func (r *SimRadio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *SimRadio) StartAccessPoint(ssid, password string) error {
	r.mu.Lock()
	r.ap = true
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) StopAccessPoint() error {
	r.mu.Lock()
	r.ap = false
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) AccessPoint() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ap
}

// SimSleeper records suspend requests.
type SimSleeper struct {
	mu       sync.Mutex
	Suspends int
	Err      error
}

func (s *SimSleeper) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Suspends++
	return s.Err
}
