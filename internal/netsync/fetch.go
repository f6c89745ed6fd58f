package netsync

import (
	"fmt"
	"math"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
)

// configPayload is the device configuration as exchanged with the backend.
type configPayload struct {
	DeviceName  string  `json:"device_name"`
	DefaultTag  string  `json:"default_id_tag"`
	SendSec     int     `json:"send_interval_seconds"`
	WheelSizeMM float64 `json:"wheel_size"`
	ServerURL   string  `json:"server_url"`
	APIKey      string  `json:"api_key"`
}

// fetchedConfig carries the optional server-side overrides; pointers
// distinguish "absent" from zero values, since 0 is valid for the deep-sleep
// timeout but nothing else.
type fetchedConfig struct {
	DefaultTag  *string  `json:"default_id_tag"`
	SendSec     *int     `json:"send_interval_seconds"`
	ServerURL   *string  `json:"server_url"`
	WheelSizeMM *float64 `json:"wheel_size"`
	Debug       *bool    `json:"debug_mode"`
	TestMode    *bool    `json:"test_mode"`
	DeepSleep   *int     `json:"deep_sleep_seconds"`
	FetchSec    *int     `json:"config_fetch_interval_seconds"`
	APIKey      *string  `json:"device_api_key"`
}

// ReportConfig posts the device's view of its configuration so the backend
// can flag drift.
func (e *Engine) ReportConfig() Outcome {
	if !e.Connected() {
		return failure(ClassConnectivity, 0, fmt.Errorf("not connected"))
	}
	body := map[string]any{
		"device_id": e.deviceID(),
		"config": configPayload{
			DeviceName:  e.deviceID(),
			DefaultTag:  e.cfg.DefaultTag,
			SendSec:     e.cfg.SendSec,
			WheelSizeMM: e.cfg.WheelSizeMM,
			ServerURL:   e.cfg.ServerURL,
			APIKey:      e.cfg.APIKey,
		},
	}
	e.Activity(true)
	status, err := e.client.postJSON(pathConfigReport, body, nil, "")
	e.Activity(false)
	return e.classify("config-report", status, err)
}

// FetchConfig pulls the server-side configuration and applies any overrides
// that pass the local sanity guards, persisting changes through the store.
func (e *Engine) FetchConfig() Outcome {
	if !e.Connected() {
		return failure(ClassConnectivity, 0, fmt.Errorf("not connected"))
	}

	query := url.Values{}
	query.Set("device_id", e.deviceID())

	var out struct {
		Config          fetchedConfig `json:"config"`
		RequiresRestart bool          `json:"requires_restart"`
	}
	e.Activity(true)
	status, err := e.client.getJSON(pathConfigFetch, query, &out)
	e.Activity(false)
	o := e.classify("config-fetch", status, err)
	if !o.OK() {
		return o
	}

	e.lastFetchAt = e.now()
	changed := e.applyFetched(out.Config)
	if changed {
		if err := e.store.Save(); err != nil {
			log.Error().Err(err).Msg("persist fetched config")
		}
	}
	if out.RequiresRestart {
		log.Warn().Msg("server config requires restart to take full effect")
	}
	return o
}

// applyFetched copies accepted overrides into the cached config and the
// store. Guards mirror the provisioning rules: empty strings and zero
// intervals preserve the device value, the wheel size must be plausible, and
// a replacement API key must prove itself before it is kept.
func (e *Engine) applyFetched(fc fetchedConfig) bool {
	changed := false

	if fc.DefaultTag != nil && *fc.DefaultTag != "" && *fc.DefaultTag != e.cfg.DefaultTag {
		e.cfg.DefaultTag = *fc.DefaultTag
		e.store.Set(config.KeyDefaultTag, *fc.DefaultTag)
		log.Info().Str("tag", *fc.DefaultTag).Msg("default tag updated from server")
		changed = true
	}
	if fc.SendSec != nil && *fc.SendSec > 0 && *fc.SendSec != e.cfg.SendSec {
		e.cfg.SendSec = *fc.SendSec
		e.store.Set(config.KeySendInterval, *fc.SendSec)
		log.Info().Int("seconds", *fc.SendSec).Msg("send interval updated from server")
		changed = true
	}
	if fc.ServerURL != nil && *fc.ServerURL != "" && *fc.ServerURL != e.cfg.ServerURL {
		e.cfg.ServerURL = *fc.ServerURL
		e.store.Set(config.KeyServerURL, *fc.ServerURL)
		log.Info().Str("url", *fc.ServerURL).Msg("server url updated from server")
		changed = true
	}
	if fc.WheelSizeMM != nil {
		w := *fc.WheelSizeMM
		switch {
		case w < config.WheelSizeMin || w > config.WheelSizeMax:
			log.Warn().Float64("wheel_mm", w).Msg("server wheel size out of range, ignored")
		case math.Abs(w-e.cfg.WheelSizeMM) > 1.0: // 1 mm comparison tolerance
			e.cfg.WheelSizeMM = w
			e.store.Set(config.KeyWheelSize, w)
			log.Info().Float64("wheel_mm", w).Msg("wheel size updated from server")
			changed = true
		}
	}
	if fc.Debug != nil && *fc.Debug != e.cfg.DebugEnabled {
		e.cfg.DebugEnabled = *fc.Debug
		e.store.Set(config.KeyDebugEnabled, *fc.Debug)
		changed = true
	}
	if fc.TestMode != nil && *fc.TestMode != e.cfg.TestMode {
		e.cfg.TestMode = *fc.TestMode
		e.store.Set(config.KeyTestMode, *fc.TestMode)
		log.Info().Bool("test_mode", *fc.TestMode).Msg("test mode updated from server")
		changed = true
	}
	// 0 is a valid deep-sleep value: it disables sleeping.
	if fc.DeepSleep != nil && *fc.DeepSleep >= 0 && *fc.DeepSleep != e.cfg.DeepSleepSec {
		e.cfg.DeepSleepSec = *fc.DeepSleep
		e.store.Set(config.KeyDeepSleep, *fc.DeepSleep)
		log.Info().Int("seconds", *fc.DeepSleep).Msg("deep sleep timeout updated from server")
		changed = true
	}
	if fc.FetchSec != nil && *fc.FetchSec > 0 && *fc.FetchSec != e.cfg.FetchSec {
		e.cfg.FetchSec = *fc.FetchSec
		e.store.Set(config.KeyConfigFetch, *fc.FetchSec)
		changed = true
	}
	if fc.APIKey != nil && *fc.APIKey != "" && *fc.APIKey != e.cfg.APIKey {
		if e.testAPIKey(*fc.APIKey) {
			e.cfg.APIKey = *fc.APIKey
			e.store.Set(config.KeyAPIKey, *fc.APIKey)
			log.Info().Msg("api key updated from server")
			changed = true
		} else {
			log.Warn().Msg("server-delivered api key failed verification, keeping current key")
		}
	}

	return changed
}

// testAPIKey probes a candidate key with a heartbeat request. Only a 2xx
// proves the key; on any other answer the current key is kept.
func (e *Engine) testAPIKey(key string) bool {
	status, err := e.client.postJSON(pathHeartbeat, map[string]any{"device_id": e.deviceID()}, nil, key)
	if err != nil {
		return false
	}
	return status >= 200 && status < 300
}
