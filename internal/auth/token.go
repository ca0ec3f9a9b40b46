package auth

import (
	"errors"
	"fmt"
	"time"

	"auth_session/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload.
type Claims struct {
	ID    uuid.UUID     `json:"id"`
	Email string        `json:"email"`
	Roles []models.Role `json:"roles"`
	jwt.RegisteredClaims
}

func (c *Claims) HasRole(r models.Role) bool {
	for _, role := range c.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// Minter signs short-lived access tokens.
type Minter struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type MinterOption func(*Minter)

func WithClock(now func() time.Time) MinterOption {
	return func(m *Minter) {
		m.now = now
	}
}

func NewMinter(key []byte, issuer string, ttl time.Duration, opts ...MinterOption) *Minter {
	m := &Minter{
		key:    key,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Minter) TTL() time.Duration {
	return m.ttl
}

func (m *Minter) Mint(user models.User) (string, error) {
	const op = "auth.Mint"

	now := m.now()
	claims := &Claims{
		ID:    user.ID,
		Email: user.Email,
		Roles: user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Parse verifies signature and expiry of an access token.
func (m *Minter) Parse(tokenStr string) (*Claims, error) {
	const op = "auth.Parse"

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, nil
}
