// Package identity derives the stable per-unit suffix appended to the
// configured device name, so two devices provisioned with the same name stay
// distinguishable server-side.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
)

// appID keys the protected machine id so the suffix cannot be correlated
// with other services on the same host.
const appID = "mcc-tachod"

// Suffix returns a four-hex-character unit suffix. Preference order: the
// value already persisted in the store, a hash of the machine id, a random
// fragment persisted for subsequent boots.
func Suffix(s *config.Store) string {
	if v := s.GetString(config.KeyDeviceSuffix, ""); v != "" {
		return v
	}

	var suffix string
	if id, err := machineid.ProtectedID(appID); err == nil {
		sum := sha256.Sum256([]byte(id))
		suffix = strings.ToUpper(hex.EncodeToString(sum[:2]))
	} else {
		log.Warn().Err(err).Msg("no machine id, generating random device suffix")
		raw := strings.ReplaceAll(uuid.NewString(), "-", "")
		suffix = strings.ToUpper(raw[:4])
	}

	s.Set(config.KeyDeviceSuffix, suffix)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Msg("persist device suffix")
	}
	return suffix
}
