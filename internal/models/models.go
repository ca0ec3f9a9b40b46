package models

import (
	"slices"
	"time"

	"github.com/gofrs/uuid"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Provider tags the external identity system an account was created through.
type Provider string

const (
	ProviderNone   Provider = "NONE"
	ProviderGoogle Provider = "GOOGLE"
	ProviderGitHub Provider = "GITHUB"
)

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderNone, ProviderGoogle, ProviderGitHub:
		return Provider(s), true
	}
	return "", false
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash *string   `json:"-"`
	Roles        []Role    `json:"roles"`
	Provider     *Provider `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u User) HasRole(r Role) bool {
	return slices.Contains(u.Roles, r)
}

// HasPassword reports whether the account can log in with a secret.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// RefreshToken is one device-session: at most one row exists per (UserID, UserAgent).
type RefreshToken struct {
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"userId"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// TokenPair is handed to the transport layer and never persisted as a whole.
type TokenPair struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken RefreshToken `json:"refreshToken"`
}
