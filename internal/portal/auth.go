package portal

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mycyclingcity/tachod/internal/config"
)

// DefaultAccessPassword matches the password the fleet ships with; it applies
// until a real one is saved through the portal. The access point uses it too:
// stored passwords are hashed, so the AP cannot reuse them.
const DefaultAccessPassword = "mccmuims"

// tokenTTL bounds a portal session; configuration mode itself times out
// sooner in the common case.
const tokenTTL = 30 * time.Minute

// authManager issues and validates portal session tokens. The signing secret
// is generated per boot: portal sessions have no reason to survive a
// restart.
type authManager struct {
	secret []byte
	store  *config.Store
}

func newAuthManager(store *config.Store) *authManager {
	return &authManager{
		secret: []byte(uuid.NewString()),
		store:  store,
	}
}

// verifyPassword checks a login attempt against the stored access password.
// Stored bcrypt hashes are compared properly; a legacy plaintext value is
// compared directly and upgraded to a hash on first successful use.
func (a *authManager) verifyPassword(candidate string) bool {
	stored := a.store.GetString(config.KeyAPPassword, "")
	if stored == "" {
		return candidate == DefaultAccessPassword
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
	}
	if candidate != stored {
		return false
	}
	if hash, err := bcrypt.GenerateFromPassword([]byte(candidate), bcrypt.DefaultCost); err == nil {
		a.store.Set(config.KeyAPPassword, string(hash))
		_ = a.store.Save()
	}
	return true
}

// setPassword stores a new access password as a bcrypt hash. WPA2 needs at
// least 8 characters, and the AP shares this password.
func (a *authManager) setPassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	a.store.Set(config.KeyAPPassword, string(hash))
	return a.store.Save()
}

func (a *authManager) issueToken() (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "portal",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Issuer:    "tachod",
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *authManager) validateToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
