package portal

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
)

// maxFirmwareSize caps an uploaded image at 8 MiB.
const maxFirmwareSize = 8 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, indexPage)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.auth.verifyPassword(req.Password) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("portal login rejected")
		respondError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	token, err := s.auth.issueToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// settingsPayload is the portal's view of the editable configuration.
type settingsPayload struct {
	WifiSSID       string  `json:"wifi_ssid"`
	WifiPassword   string  `json:"wifi_password,omitempty"`
	DeviceName     string  `json:"device_name"`
	DefaultTag     string  `json:"default_id_tag"`
	WheelSizeMM    float64 `json:"wheel_size_mm"`
	ServerURL      string  `json:"server_url"`
	APIKey         string  `json:"api_key,omitempty"`
	SendSec        int     `json:"send_interval_seconds"`
	DeepSleepSec   int     `json:"deep_sleep_seconds"`
	LEDEnabled     bool    `json:"led_enabled"`
	DebugEnabled   bool    `json:"debug_enabled"`
	TestMode       bool    `json:"test_mode"`
	TestDistanceKM float64 `json:"test_distance_km"`
	TestSec        int     `json:"test_interval_seconds"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	// resolve a private snapshot; the loop's own Device is never shared here
	cfg, err := config.Load(s.store)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	respondJSON(w, http.StatusOK, settingsPayload{
		WifiSSID:       cfg.WifiSSID,
		DeviceName:     cfg.DeviceName,
		DefaultTag:     cfg.DefaultTag,
		WheelSizeMM:    cfg.WheelSizeMM,
		ServerURL:      cfg.ServerURL,
		SendSec:        cfg.SendSec,
		DeepSleepSec:   cfg.DeepSleepSec,
		LEDEnabled:     cfg.LEDEnabled,
		DebugEnabled:   cfg.DebugEnabled,
		TestMode:       cfg.TestMode,
		TestDistanceKM: cfg.TestDistanceKM,
		TestSec:        cfg.TestSec,
	})
}

// handleSaveConfig persists submitted settings and arms the config-exit flag
// so the next boot skips configuration mode even on a cold start.
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WheelSizeMM != 0 && (req.WheelSizeMM < config.WheelSizeMin || req.WheelSizeMM > config.WheelSizeMax) {
		respondError(w, http.StatusBadRequest, "wheel size out of range")
		return
	}
	if req.SendSec < 0 || req.DeepSleepSec < 0 || req.TestSec < 0 {
		respondError(w, http.StatusBadRequest, "intervals must not be negative")
		return
	}

	// writes go to the store only; the control loop re-resolves on mode exit
	if req.WifiSSID != "" {
		s.store.Set(config.KeyWifiSSID, req.WifiSSID)
	}
	if req.WifiPassword != "" {
		s.store.Set(config.KeyWifiPassword, req.WifiPassword)
	}
	if req.DeviceName != "" {
		s.store.Set(config.KeyDeviceName, req.DeviceName)
	}
	if req.DefaultTag != "" {
		s.store.Set(config.KeyDefaultTag, req.DefaultTag)
	}
	if req.WheelSizeMM != 0 {
		s.store.Set(config.KeyWheelSize, req.WheelSizeMM)
	}
	if req.ServerURL != "" {
		s.store.Set(config.KeyServerURL, req.ServerURL)
	}
	if req.APIKey != "" {
		s.store.Set(config.KeyAPIKey, req.APIKey)
	}
	if req.SendSec > 0 {
		s.store.Set(config.KeySendInterval, req.SendSec)
	}
	s.store.Set(config.KeyDeepSleep, req.DeepSleepSec)
	s.store.Set(config.KeyLEDEnabled, req.LEDEnabled)
	s.store.Set(config.KeyDebugEnabled, req.DebugEnabled)
	s.store.Set(config.KeyTestMode, req.TestMode)
	if req.TestDistanceKM > 0 {
		s.store.Set(config.KeyTestDistance, req.TestDistanceKM)
	}
	if req.TestSec > 0 {
		s.store.Set(config.KeyTestInterval, req.TestSec)
	}

	s.store.Set(config.KeyConfigExit, true)
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to persist settings")
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	log.Info().Msg("settings saved via portal")
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.auth.setPassword(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Msg("access password changed via portal")
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "rebooting"})
	log.Info().Msg("reboot requested via portal")
	go func() {
		// let the response flush before going down
		time.Sleep(500 * time.Millisecond)
		s.Restart()
	}()
}

// handleFirmwareUpload accepts a raw firmware image, stages it through the
// apply hook, and reboots into it.
func (s *Server) handleFirmwareUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFirmwareSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read firmware image")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty firmware image")
		return
	}
	if len(data) > maxFirmwareSize {
		respondError(w, http.StatusRequestEntityTooLarge, "firmware image too large")
		return
	}

	if err := s.ApplyFirmware(data); err != nil {
		log.Error().Err(err).Msg("firmware staging failed")
		respondError(w, http.StatusInternalServerError, "failed to stage firmware")
		return
	}

	log.Info().Int("bytes", len(data)).Msg("firmware uploaded via portal, rebooting")
	respondJSON(w, http.StatusOK, map[string]string{"status": "updating"})
	go func() {
		time.Sleep(500 * time.Millisecond)
		s.Restart()
	}()
}
