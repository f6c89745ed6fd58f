package config

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Compile-time defaults, the middle tier of field resolution. Set with
// -ldflags "-X github.com/mycyclingcity/tachod/internal/config.BuildServerURL=...".
// They stand in for the build flags the fleet images are provisioned with.
var (
	BuildWifiSSID     string
	BuildWifiPassword string
	BuildDeviceName   string
	BuildDefaultTag   string
	BuildServerURL    string
	BuildAPIKey       string
)

// Hardcoded fallbacks, the last resolution tier.
const (
	fallbackWheelMM      = 2075.0
	fallbackSendSec      = 30
	fallbackDeepSleepSec = 300
	fallbackFetchSec     = 3600
	fallbackTestDistKM   = 0.01
	fallbackTestSec      = 5

	// WheelSizeMin and WheelSizeMax bound a plausible wheel circumference
	// in millimetres.
	WheelSizeMin = 500.0
	WheelSizeMax = 3000.0

	// ConfigModeTimeoutSec is how long configuration mode waits before
	// re-evaluating whether it can leave.
	ConfigModeTimeoutSec = 300
)

// Device is the resolved device configuration, cached in memory by the mode
// controller. Changes made at runtime (config fetch, portal saves) go through
// the store and are mirrored here.
type Device struct {
	WifiSSID     string
	WifiPassword string
	DeviceName   string
	DefaultTag   string
	WheelSizeMM  float64
	ServerURL    string
	APIKey       string
	SendSec      int
	DeepSleepSec int // 0 disables deep sleep
	FetchSec     int
	LEDEnabled   bool
	DebugEnabled bool

	TestMode       bool
	TestDistanceKM float64
	TestSec        int
}

// Load resolves every field through the three tiers: persisted value,
// compile-time default, hardcoded fallback. A compile-time default that wins
// is written back to the store so the next boot reads it directly.
func Load(s *Store) (*Device, error) {
	d := &Device{}
	if err := d.Reload(s); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-resolves every field from the store into d. The portal and the
// config fetch write through the store; the control loop calls this to pick
// those changes up, so d itself is only ever touched from the loop.
func (d *Device) Reload(s *Store) error {
	*d = Device{
		WifiSSID:     resolveString(s, KeyWifiSSID, BuildWifiSSID, ""),
		WifiPassword: resolveString(s, KeyWifiPassword, BuildWifiPassword, ""),
		DeviceName:   resolveString(s, KeyDeviceName, BuildDeviceName, ""),
		DefaultTag:   resolveString(s, KeyDefaultTag, BuildDefaultTag, ""),
		WheelSizeMM:  resolveFloat(s, KeyWheelSize, 0, fallbackWheelMM),
		ServerURL:    resolveString(s, KeyServerURL, BuildServerURL, ""),
		APIKey:       resolveString(s, KeyAPIKey, BuildAPIKey, ""),
		SendSec:      resolveInt(s, KeySendInterval, 0, fallbackSendSec),
		DeepSleepSec: resolveInt(s, KeyDeepSleep, 0, fallbackDeepSleepSec),
		FetchSec:     resolveInt(s, KeyConfigFetch, 0, fallbackFetchSec),
		LEDEnabled:   s.GetBool(KeyLEDEnabled, true),
		DebugEnabled: s.GetBool(KeyDebugEnabled, true),

		TestMode:       s.GetBool(KeyTestMode, false),
		TestDistanceKM: s.GetFloat(KeyTestDistance, fallbackTestDistKM),
		TestSec:        s.GetInt(KeyTestInterval, fallbackTestSec),
	}
	return s.Save()
}

// CriticalMissing returns the names of critical fields that did not resolve
// to a usable value. A non-empty result forces configuration mode.
func (d *Device) CriticalMissing() []string {
	var missing []string
	if d.WifiSSID == "" {
		missing = append(missing, "wifi_ssid")
	}
	if d.DefaultTag == "" {
		missing = append(missing, "default_id_tag")
	}
	if d.WheelSizeMM < WheelSizeMin || d.WheelSizeMM > WheelSizeMax {
		missing = append(missing, "wheel_size")
	}
	if d.SendSec <= 0 {
		missing = append(missing, "send_interval")
	}
	if len(missing) > 0 {
		log.Warn().Strs("fields", missing).Msg("critical configuration missing")
	}
	return missing
}

// DeviceID joins the configured name with the hardware suffix, matching the
// identifier the backend keys devices on. An unnamed device reports only the
// suffix so it still shows up server-side.
func (d *Device) DeviceID(suffix string) string {
	name := strings.TrimSpace(d.DeviceName)
	if name == "" {
		return suffix
	}
	return name + "_" + suffix
}
