package hw

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// LineTagReader feeds tag UIDs from a character device or FIFO written by the
// RFID reader driver, one hex UID per line. Reads happen on a background
// goroutine so Poll never blocks the control loop.
type LineTagReader struct {
	ch     chan string
	cancel context.CancelFunc
}

func NewLineTagReader(path string) (*LineTagReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tag reader %s: %w", path, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LineTagReader{ch: make(chan string, 4), cancel: cancel}
	go func() {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			uid := strings.ToUpper(strings.TrimSpace(sc.Text()))
			if uid == "" {
				continue
			}
			select {
			case r.ch <- uid:
			case <-ctx.Done():
				return
			default:
				// reader faster than the loop; drop the oldest
				select {
				case <-r.ch:
				default:
				}
				r.ch <- uid
			}
		}
	}()
	return r, nil
}

func (r *LineTagReader) Poll() (string, bool) {
	select {
	case uid := <-r.ch:
		return uid, true
	default:
		return "", false
	}
}

func (r *LineTagReader) Close() { r.cancel() }

// CommandRadio manages the wireless interface through nmcli.
type CommandRadio struct {
	Iface string

	mu        sync.Mutex
	connected bool
}

func (r *CommandRadio) run(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("nmcli %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *CommandRadio) Connect(ssid, password string, timeout time.Duration) error {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if r.Iface != "" {
		args = append(args, "ifname", r.Iface)
	}
	if err := r.run(timeout, args...); err != nil {
		return err
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

func (r *CommandRadio) Disconnect() {
	if r.Iface != "" {
		_ = r.run(5*time.Second, "device", "disconnect", r.Iface)
	}
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

func (r *CommandRadio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *CommandRadio) StartAccessPoint(ssid, password string) error {
	args := []string{"device", "wifi", "hotspot", "ssid", ssid, "password", password}
	if r.Iface != "" {
		args = append(args, "ifname", r.Iface)
	}
	return r.run(10*time.Second, args...)
}

func (r *CommandRadio) StopAccessPoint() error {
	if r.Iface == "" {
		return nil
	}
	return r.run(5*time.Second, "device", "disconnect", r.Iface)
}

// CommandSleeper suspends the node by writing the wake marker and invoking a
// platform suspend command (rtcwake, systemctl suspend, or a board-specific
// helper that arms the GPIO wake source).
type CommandSleeper struct {
	MarkerPath string
	Command    []string
}

func (s *CommandSleeper) Suspend() error {
	if s.MarkerPath != "" {
		if err := os.WriteFile(s.MarkerPath, []byte("sensor\n"), 0o644); err != nil {
			return fmt.Errorf("write wake marker: %w", err)
		}
	}
	if len(s.Command) == 0 {
		s.removeMarker()
		return fmt.Errorf("no suspend command configured")
	}
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	if err := cmd.Run(); err != nil {
		// without the suspend, the marker would make the next boot look
		// like a sensor wake
		s.removeMarker()
		return fmt.Errorf("suspend command: %w", err)
	}
	return nil
}

func (s *CommandSleeper) removeMarker() {
	if s.MarkerPath != "" {
		_ = os.Remove(s.MarkerPath)
	}
}
