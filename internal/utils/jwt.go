package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oceandive/divetrack/backend/internal/config"
)

const accessTokenType = "access"

var (
	ErrInvalidAccessToken = errors.New("invalid or expired access token")
)

// Claims carried by a signed access token. Subject is the username.
type Claims struct {
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// JWTCodec signs and verifies short-lived access tokens. It is stateless:
// verification needs only the shared secret, never the database. There is
// deliberately no revocation path for access tokens; their blast radius is
// bounded by the lifetime.
type JWTCodec struct {
	secret   []byte
	lifetime time.Duration
}

func NewJWTCodec(cfg *config.AuthConfig) *JWTCodec {
	return &JWTCodec{
		secret:   []byte(cfg.Secret),
		lifetime: cfg.AccessTokenLifetime(),
	}
}

// Lifetime returns the validity window applied by Sign.
func (c *JWTCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Sign produces an access token valid for [now, now+lifetime).
func (c *JWTCodec) Sign(userID uint, username, role string, now time.Time) (string, error) {
	claims := Claims{
		UserID:    userID,
		Username:  username,
		Role:      role,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Parse verifies signature, expiry and token type. It never panics on
// untrusted input; any failure yields ErrInvalidAccessToken.
func (c *JWTCodec) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAccessToken
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidAccessToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.TokenType != accessTokenType {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}
