package service

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/blake2b"

	"github.com/orgdash/dashboard-worker/internal/config"
	"github.com/orgdash/dashboard-worker/internal/domain/user"
)

// ErrInvalidToken is returned for access tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// ClaimsCache holds verified claims keyed by a token digest.
type ClaimsCache interface {
	Get(key string) (*user.Claims, bool)
	Set(key string, value *user.Claims, cost int64, ttl time.Duration) bool
}

// AuthService verifies Supabase access tokens.
type AuthService struct {
	cfg    *config.Auth
	secret []byte
	cache  ClaimsCache
	clock  clockwork.Clock
}

// NewAuthService creates an authentication service. cache may be nil.
func NewAuthService(cfg *config.Auth, cache ClaimsCache, clock clockwork.Clock) *AuthService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuthService{
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
		cache:  cache,
		clock:  clock,
	}
}

// ValidateAccessToken verifies an HS256 Supabase access token and returns its
// claims. Verified claims are cached until the earlier of the configured
// claims TTL and the token's expiry.
func (s *AuthService) ValidateAccessToken(tokenStr string) (*user.Claims, error) {
	key := tokenDigest(tokenStr)
	if s.cache != nil {
		if c, ok := s.cache.Get(key); ok && c.ExpiresAt != nil && s.clock.Now().Before(c.ExpiresAt.Time) {
			return c, nil
		}
	}

	claims := &user.Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if s.cache != nil {
		ttl := min(s.cfg.ClaimsTTL, claims.ExpiresAt.Sub(s.clock.Now()))
		if ttl > 0 {
			s.cache.Set(key, claims, int64(len(tokenStr)), ttl)
		}
	}
	return claims, nil
}

func tokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
