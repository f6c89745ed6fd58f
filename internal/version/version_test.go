package version

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycyclingcity/tachod/internal/config"
)

func TestCurrentFallsBackToBuildAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	s, err := config.OpenStore(path)
	require.NoError(t, err)

	assert.Equal(t, Build, Current(s))

	s2, err := config.OpenStore(path)
	require.NoError(t, err)
	assert.Equal(t, Build, s2.GetString(config.KeyFirmwareVer, ""))
}

func TestRecordOverridesBuild(t *testing.T) {
	s, err := config.OpenStore(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)

	require.NoError(t, Record(s, "1.1.0"))
	assert.Equal(t, "1.1.0", Current(s))
}
