package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// legacyKeys maps canonical store keys to the key names older firmware wrote.
// A legacy value is migrated to the canonical key the first time it is read.
var legacyKeys = map[string][]string{
	KeyDeviceName:   {"deviceName"},
	KeyDefaultTag:   {"idTag"},
	KeyServerURL:    {"serverUrl"},
	KeyAPIKey:       {"apiKey", "authToken"},
	KeySendInterval: {"sendInterval"},
	KeyDeepSleep:    {"deep_sleep", "deepSleepTimeout"},
	KeyConfigFetch:  {"cfg_fetch_int"},
	KeyLEDEnabled:   {"ledEnabled"},
	KeyDebugEnabled: {"debugEnabled"},
	KeyTestMode:     {"testModeEnabled"},
	KeyTestDistance: {"testDistance"},
	KeyTestInterval: {"testInterval"},
	KeyAPPassword:   {"ap_passwd"},
	KeyConfigExit:   {"configExit"},
	KeyFirmwareVer:  {"fw_ver"},
	KeyWheelSize:    {"wheelSize"},
}

// Canonical store keys.
const (
	KeyWifiSSID     = "wifi_ssid"
	KeyWifiPassword = "wifi_password"
	KeyDeviceName   = "device_name"
	KeyDefaultTag   = "default_id_tag"
	KeyWheelSize    = "wheel_size"
	KeyServerURL    = "server_url"
	KeyAPIKey       = "api_key"
	KeySendInterval = "send_interval"
	KeyDeepSleep    = "deep_sleep_timeout"
	KeyConfigFetch  = "config_fetch_interval"
	KeyLEDEnabled   = "led_enabled"
	KeyDebugEnabled = "debug_enabled"
	KeyTestMode     = "test_mode"
	KeyTestDistance = "test_distance"
	KeyTestInterval = "test_interval"
	KeyAPPassword   = "ap_password"
	KeyConfigExit   = "config_exit"
	KeyFirmwareVer  = "firmware_version"
	KeyDeviceSuffix = "device_suffix"
)

// Store is the persistent key-value store backing device configuration. It is
// a YAML file written atomically, the agent's stand-in for NVS: it must
// survive power loss and deep sleep.
type Store struct {
	path string

	mu   sync.Mutex
	vals map[string]any
}

// OpenStore loads the store file, creating an empty store when the file does
// not exist yet.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, vals: map[string]any{}}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.vals); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	if s.vals == nil {
		s.vals = map[string]any{}
	}
	return s, nil
}

// lookup resolves key or one of its legacy aliases, migrating aliases to the
// canonical key on first read.
func (s *Store) lookup(key string) (any, bool) {
	if v, ok := s.vals[key]; ok {
		return v, true
	}
	for _, old := range legacyKeys[key] {
		if v, ok := s.vals[old]; ok {
			s.vals[key] = v
			delete(s.vals, old)
			return v, true
		}
	}
	return nil, false
}

// Has reports whether the key (or a legacy alias) is present.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok
}

func (s *Store) GetString(key, def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.lookup(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", v)
	}
	return def
}

func (s *Store) GetInt(key string, def int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func (s *Store) GetFloat(key string, def float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

func (s *Store) GetBool(key string, def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.lookup(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Set stores a value under the canonical key. The change is in memory until
// Save is called.
func (s *Store) Set(key string, val any) {
	s.mu.Lock()
	s.vals[key] = val
	s.mu.Unlock()
}

// Delete removes a key and its legacy aliases.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.vals, key)
	for _, old := range legacyKeys[key] {
		delete(s.vals, old)
	}
	s.mu.Unlock()
}

// Save writes the store atomically: full marshal to a temp file in the same
// directory, then rename over the old file.
func (s *Store) Save() error {
	s.mu.Lock()
	raw, err := yaml.Marshal(s.vals)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// TakeFlag reads a one-shot boolean flag and clears it in the same step.
func (s *Store) TakeFlag(key string) (bool, error) {
	set := s.GetBool(key, false)
	if !set {
		return false, nil
	}
	s.Delete(key)
	return true, s.Save()
}
