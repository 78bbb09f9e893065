package push

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenLifetime      = 3600 * time.Second
	tokenRefreshMargin = 600 * time.Second
)

var (
	errMissingKeyMaterial = errors.New("push: no signing key material configured")
	errMissingKeyID       = errors.New("push: key id must be provided")
	errMissingTeamID      = errors.New("push: team id must be provided")
)

// TokenSourceConfig configures the APNs provider-token source. Exactly one key
// form is consulted, in priority order: inline PEM, base64-encoded PEM, file path.
type TokenSourceConfig struct {
	KeyPEM    string
	KeyBase64 string
	KeyPath   string
	KeyID     string
	TeamID    string
	Clock     func() time.Time
}

// TokenSource caches a signed ES256 provider token and re-signs only when the
// cached token is within the refresh margin of its expiry. Readers may keep
// using a token issued before a concurrent refresh; it stays valid until its
// own expiry regardless of cache replacement.
type TokenSource struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	clock  func() time.Time

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewTokenSource loads the signing key and constructs the token source.
func NewTokenSource(cfg TokenSourceConfig) (*TokenSource, error) {
	if strings.TrimSpace(cfg.KeyID) == "" {
		return nil, errMissingKeyID
	}
	if strings.TrimSpace(cfg.TeamID) == "" {
		return nil, errMissingTeamID
	}

	key, err := loadSigningKey(cfg)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TokenSource{
		key:    key,
		keyID:  strings.TrimSpace(cfg.KeyID),
		teamID: strings.TrimSpace(cfg.TeamID),
		clock:  clock,
	}, nil
}

// Token returns the cached provider token, re-signing when none is cached or
// less than the refresh margin remains before expiry. Duplicate signing under
// simultaneous expiry resolves last-writer-wins; both tokens stay valid.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	if s.cached != "" && s.expiresAt.Sub(now) > tokenRefreshMargin {
		return s.cached, nil
	}

	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("push: signing provider token: %w", err)
	}

	s.cached = signed
	s.expiresAt = now.Add(tokenLifetime)
	return signed, nil
}

func loadSigningKey(cfg TokenSourceConfig) (*ecdsa.PrivateKey, error) {
	var pemBytes []byte
	switch {
	case strings.TrimSpace(cfg.KeyPEM) != "":
		pemBytes = []byte(cfg.KeyPEM)
	case strings.TrimSpace(cfg.KeyBase64) != "":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.KeyBase64))
		if err != nil {
			return nil, fmt.Errorf("push: decoding base64 key: %w", err)
		}
		pemBytes = decoded
	case strings.TrimSpace(cfg.KeyPath) != "":
		contents, err := os.ReadFile(strings.TrimSpace(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("push: reading key file: %w", err)
		}
		pemBytes = contents
	default:
		return nil, errMissingKeyMaterial
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("push: parsing EC private key: %w", err)
	}
	return key, nil
}
