// Package identity checks login secrets and turns externally verified
// emails into local accounts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"auth_session/internal/auth"
	"auth_session/internal/models"
	"auth_session/internal/storage"
)

const minPasswordLength = 6

type Verifier struct {
	storage storage.Storage
	log     *slog.Logger

	// strictProvider rejects a provider login that lands on an account
	// created through a different method.
	strictProvider bool
}

type Option func(*Verifier)

func WithStrictProviderMatch(strict bool) Option {
	return func(v *Verifier) {
		v.strictProvider = strict
	}
}

func NewVerifier(st storage.Storage, log *slog.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		storage: st,
		log:     log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// VerifyPassword looks the user up by id or email and checks the secret.
func (v *Verifier) VerifyPassword(ctx context.Context, identifier, secret string) (models.User, error) {
	const op = "identity.VerifyPassword"

	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		identifier = NormalizeEmail(identifier)
	}

	user, err := v.storage.FindUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			auth.BurnPasswordCheck(secret)
			return models.User{}, fmt.Errorf("%s: %w", op, models.ErrUnauthenticated)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if !user.HasPassword() {
		auth.BurnPasswordCheck(secret)
		return models.User{}, fmt.Errorf("%s: %w", op, models.ErrUnauthenticated)
	}
	if !auth.CheckPasswordHash(*user.PasswordHash, secret) {
		return models.User{}, fmt.Errorf("%s: %w", op, models.ErrUnauthenticated)
	}

	return user, nil
}

// ResolveProviderIdentity maps a verified provider email onto an account.
// One email is one account across login methods: an existing user is returned
// as-is whatever provider created it, unless strict matching is enabled.
func (v *Verifier) ResolveProviderIdentity(ctx context.Context, email string, provider models.Provider) (models.User, error) {
	const op = "identity.ResolveProviderIdentity"

	log := v.log.With(slog.String("op", op), slog.String("provider", string(provider)))

	email = NormalizeEmail(email)
	if email == "" {
		return models.User{}, fmt.Errorf("%s: %w", op, models.ErrAccountCreationFailed)
	}

	user, err := v.storage.GetUserByEmail(ctx, email)
	if err == nil {
		if v.strictProvider && !sameProvider(user.Provider, provider) {
			log.Warn("provider does not match account", slog.String("user_id", user.ID.String()))
			return models.User{}, fmt.Errorf("%s: %w", op, models.ErrForbidden)
		}
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	p := provider
	created, err := v.storage.CreateUser(ctx, models.User{
		Email:    email,
		Roles:    []models.Role{models.RoleUser},
		Provider: &p,
	})
	if err != nil {
		log.Error("failed to create provider user", slog.Any("error", err))

		return models.User{}, fmt.Errorf("%s: %w", op, models.ErrAccountCreationFailed)
	}

	log.Info("created provider user", slog.String("user_id", created.ID.String()))

	return created, nil
}

// Register creates a password account.
func (v *Verifier) Register(ctx context.Context, email, password string) (models.User, error) {
	const op = "identity.Register"

	log := v.log.With(slog.String("op", op))

	email = NormalizeEmail(email)
	if !IsValidEmail(email) {
		return models.User{}, fmt.Errorf("%s: %w: email", op, models.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return models.User{}, fmt.Errorf("%s: %w: password must be at least %d characters", op, models.ErrInvalidInput, minPasswordLength)
	}

	if _, err := v.storage.GetUserByEmail(ctx, email); err == nil {
		return models.User{}, fmt.Errorf("%s: %w", op, models.ErrConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	provider := models.ProviderNone
	user, err := v.storage.CreateUser(ctx, models.User{
		Email:        email,
		PasswordHash: &hash,
		Roles:        []models.Role{models.RoleUser},
		Provider:     &provider,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return models.User{}, fmt.Errorf("%s: %w", op, models.ErrConflict)
		}
		log.Error("failed to create user", slog.Any("error", err))

		return models.User{}, fmt.Errorf("%s: %w", op, models.ErrAccountCreationFailed)
	}

	return user, nil
}

func sameProvider(have *models.Provider, want models.Provider) bool {
	if have == nil {
		return want == models.ProviderNone
	}
	return *have == want
}
