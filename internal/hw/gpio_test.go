package hw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSysfsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")

	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o644))
	l := &SysfsLine{Path: path}
	assert.True(t, l.Active())

	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))
	assert.False(t, l.Active())

	// with a pull-up the electrical low is the active state
	l.ActiveLow = true
	assert.True(t, l.Active())
}

func TestEdgeCounterCountsTransitions(t *testing.T) {
	line := &SimLine{}
	c := NewEdgeCounter(line, time.Millisecond)
	defer c.Stop()

	for i := 0; i < 3; i++ {
		line.SetActive(true)
		time.Sleep(5 * time.Millisecond)
		line.SetActive(false)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return c.Count() == 3 },
		200*time.Millisecond, 5*time.Millisecond)

	c.Clear()
	assert.Zero(t, c.Count())
}

func TestFileLED(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))

	l := &FileLED{Path: path}
	l.Set(true)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", string(raw))

	l.Set(false)
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0", string(raw))
}

func TestCommandSleeperWritesWakeMarker(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "wake-marker")
	s := &CommandSleeper{MarkerPath: marker, Command: []string{"true"}}

	require.NoError(t, s.Suspend())

	raw, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "sensor\n", string(raw))
}

func TestCommandSleeperRemovesMarkerOnFailure(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "wake-marker")
	s := &CommandSleeper{MarkerPath: marker, Command: []string{"false"}}

	require.Error(t, s.Suspend())

	// a stale marker would make the next boot look like a sensor wake
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}
