package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"auth_session/internal/models"
	"auth_session/internal/storage/memory"
)

// failingCreate rejects every account creation.
type failingCreate struct {
	*memory.Storage
}

func (f failingCreate) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	return models.User{}, errors.New("disk on fire")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterAndVerifyPassword(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(memory.New(), discardLogger())

	user, err := v.Register(ctx, "Alice@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if !user.HasRole(models.RoleUser) {
		t.Fatalf("expected default USER role, got %v", user.Roles)
	}

	got, err := v.VerifyPassword(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("wrong user returned")
	}

	byID, err := v.VerifyPassword(ctx, user.ID.String(), "secret1")
	if err != nil {
		t.Fatalf("VerifyPassword by id: %v", err)
	}
	if byID.ID != user.ID {
		t.Fatalf("wrong user returned by id")
	}

	if _, err := v.VerifyPassword(ctx, "alice@example.com", "secret2"); !errors.Is(err, models.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := v.VerifyPassword(ctx, "bob@example.com", "secret1"); !errors.Is(err, models.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown user, got %v", err)
	}
}

func TestRegister_Conflict(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(memory.New(), discardLogger())

	if _, err := v.Register(ctx, "alice@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := v.Register(ctx, "ALICE@example.com", "another1"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	v := NewVerifier(memory.New(), discardLogger())

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "empty email", email: "", password: "secret1"},
		{name: "not an email", email: "alice", password: "secret1"},
		{name: "short password", email: "alice@example.com", password: "123"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Register(context.Background(), tc.email, tc.password); !errors.Is(err, models.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegister_StoreFailureIsHidden(t *testing.T) {
	v := NewVerifier(failingCreate{memory.New()}, discardLogger())

	_, err := v.Register(context.Background(), "alice@example.com", "secret1")
	if !errors.Is(err, models.ErrAccountCreationFailed) {
		t.Fatalf("expected ErrAccountCreationFailed, got %v", err)
	}
	if errors.Unwrap(errors.Unwrap(err)) != nil {
		t.Fatalf("store error leaked to caller: %v", err)
	}
}

func TestVerifyPassword_ProviderOnlyAccount(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(memory.New(), discardLogger())

	if _, err := v.ResolveProviderIdentity(ctx, "g@example.com", models.ProviderGoogle); err != nil {
		t.Fatalf("ResolveProviderIdentity: %v", err)
	}
	if _, err := v.VerifyPassword(ctx, "g@example.com", ""); !errors.Is(err, models.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for passwordless account, got %v", err)
	}
}

func TestResolveProviderIdentity_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(memory.New(), discardLogger())

	first, err := v.ResolveProviderIdentity(ctx, "g@example.com", models.ProviderGoogle)
	if err != nil {
		t.Fatalf("ResolveProviderIdentity: %v", err)
	}
	if first.HasPassword() {
		t.Fatalf("provider account must not have a password")
	}
	if first.Provider == nil || *first.Provider != models.ProviderGoogle {
		t.Fatalf("provider: got %v", first.Provider)
	}

	second, err := v.ResolveProviderIdentity(ctx, "G@example.com", models.ProviderGoogle)
	if err != nil {
		t.Fatalf("ResolveProviderIdentity: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, second.ID)
	}
}

func TestResolveProviderIdentity_ReusesPasswordAccount(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(memory.New(), discardLogger())

	registered, err := v.Register(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := v.ResolveProviderIdentity(ctx, "alice@example.com", models.ProviderGoogle)
	if err != nil {
		t.Fatalf("ResolveProviderIdentity: %v", err)
	}
	if got.ID != registered.ID {
		t.Fatalf("expected the password account to be reused")
	}
	if got.Provider == nil || *got.Provider != models.ProviderNone {
		t.Fatalf("account must be returned unchanged, provider = %v", got.Provider)
	}
}

func TestResolveProviderIdentity_Strict(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(memory.New(), discardLogger(), WithStrictProviderMatch(true))

	if _, err := v.Register(ctx, "alice@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := v.ResolveProviderIdentity(ctx, "alice@example.com", models.ProviderGoogle); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := v.ResolveProviderIdentity(ctx, "new@example.com", models.ProviderGitHub); err != nil {
		t.Fatalf("new account in strict mode: %v", err)
	}
	if _, err := v.ResolveProviderIdentity(ctx, "new@example.com", models.ProviderGitHub); err != nil {
		t.Fatalf("same provider in strict mode: %v", err)
	}
}

func TestResolveProviderIdentity_CreationFailure(t *testing.T) {
	v := NewVerifier(failingCreate{memory.New()}, discardLogger())

	_, err := v.ResolveProviderIdentity(context.Background(), "g@example.com", models.ProviderGoogle)
	if !errors.Is(err, models.ErrAccountCreationFailed) {
		t.Fatalf("expected ErrAccountCreationFailed, got %v", err)
	}
}
