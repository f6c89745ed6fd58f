// Package version tracks the firmware revision reported to the update API.
package version

import "github.com/mycyclingcity/tachod/internal/config"

// Build is the compiled-in revision, overridable with -ldflags -X.
var Build = "1.0.0"

// Current returns the running firmware version: the store value if an update
// recorded one, otherwise the compiled-in revision, which is persisted so the
// first update check after provisioning reports it consistently.
func Current(s *config.Store) string {
	if v := s.GetString(config.KeyFirmwareVer, ""); v != "" {
		return v
	}
	s.Set(config.KeyFirmwareVer, Build)
	_ = s.Save()
	return Build
}

// Record persists the version of a freshly applied firmware image.
func Record(s *config.Store, v string) error {
	s.Set(config.KeyFirmwareVer, v)
	return s.Save()
}
