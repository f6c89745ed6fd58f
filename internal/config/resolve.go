package config

import "github.com/rs/zerolog/log"

// The resolvers below implement the three-tier fallback shared by every
// field: persisted value wins, then the compile-time default (which is
// persisted once resolved), then the hardcoded fallback. Presence in the
// store is what matters, not zero-ness, so an explicitly stored 0 or ""
// passes through and is caught by validation instead of being papered over.

func resolveString(s *Store, key, buildDefault, fallback string) string {
	if s.Has(key) {
		return s.GetString(key, fallback)
	}
	if buildDefault != "" {
		log.Debug().Str("key", key).Msg("using compile-time default")
		s.Set(key, buildDefault)
		return buildDefault
	}
	return fallback
}

func resolveInt(s *Store, key string, buildDefault, fallback int) int {
	if s.Has(key) {
		return s.GetInt(key, fallback)
	}
	if buildDefault != 0 {
		log.Debug().Str("key", key).Msg("using compile-time default")
		s.Set(key, buildDefault)
		return buildDefault
	}
	return fallback
}

func resolveFloat(s *Store, key string, buildDefault, fallback float64) float64 {
	if s.Has(key) {
		return s.GetFloat(key, fallback)
	}
	if buildDefault != 0 {
		log.Debug().Str("key", key).Msg("using compile-time default")
		s.Set(key, buildDefault)
		return buildDefault
	}
	return fallback
}
