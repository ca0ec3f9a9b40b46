package service

import (
	"context"
	"errors"
	"testing"

	"auth_session/internal/models"

	"github.com/gofrs/uuid"
)

func TestUsers_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.register(t, "alice@example.com", "secret1")

	if _, err := env.users.Register(ctx, "alice@example.com", "secret1"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("duplicate email: expected ErrConflict, got %v", err)
	}
	if _, err := env.users.Register(ctx, "not-an-email", "secret1"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("bad email: expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.users.Register(ctx, "bob@example.com", "123"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("short password: expected ErrInvalidInput, got %v", err)
	}
}

func TestUsers_FindByIDOrEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.register(t, "alice@example.com", "secret1")

	byID, err := env.users.Find(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("Find by id: %v", err)
	}
	byEmail, err := env.users.Find(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Find by email: %v", err)
	}
	if byID.ID != user.ID || byEmail.ID != user.ID {
		t.Fatalf("lookups returned different users")
	}

	if _, err := env.users.Find(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUsers_DeletePolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com", "secret1")
	bob := env.register(t, "bob@example.com", "secret1")

	asBob := Principal{ID: bob.ID, Roles: bob.Roles}
	if err := env.users.Delete(ctx, alice.ID, asBob); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := env.sessions.Login(ctx, "alice@example.com", "secret1", "deviceA"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	admin := Principal{ID: uuid.Must(uuid.NewV4()), Roles: []models.Role{models.RoleAdmin}}
	if err := env.users.Delete(ctx, alice.ID, admin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if got := len(env.rows(t, alice.ID)); got != 0 {
		t.Fatalf("deleting a user must drop their sessions, %d left", got)
	}

	if err := env.users.Delete(ctx, bob.ID, asBob); err != nil {
		t.Fatalf("self delete: %v", err)
	}
	if err := env.users.Delete(ctx, bob.ID, admin); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUsers_Roles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.register(t, "alice@example.com", "secret1")

	if err := env.users.AssignRole(ctx, user.ID, models.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := env.users.AssignRole(ctx, user.ID, models.RoleAdmin); err != nil {
		t.Fatalf("AssignRole twice: %v", err)
	}

	got, err := env.users.Find(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got.Roles) != 2 || !got.HasRole(models.RoleAdmin) {
		t.Fatalf("unexpected roles %v", got.Roles)
	}

	if err := env.users.RemoveRole(ctx, user.ID, models.RoleUser); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	if err := env.users.RemoveRole(ctx, user.ID, models.RoleAdmin); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("removing the last role: expected ErrInvalidInput, got %v", err)
	}

	if err := env.users.AssignRole(ctx, uuid.Must(uuid.NewV4()), models.RoleAdmin); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUsers_List(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "secret1")
	env.register(t, "bob@example.com", "secret1")

	users, err := env.users.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}
