// Package storagetest holds the behaviour every storage.Storage
// implementation must share. Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"auth_session/internal/models"
	"auth_session/internal/storage"

	"github.com/gofrs/uuid"
	googleuuid "github.com/google/uuid"
)

// Factory returns an empty store. Cleanup is the caller's business (t.Cleanup).
type Factory func(t *testing.T) storage.Storage

func Run(t *testing.T, newStorage Factory) {
	t.Run("CreateAndGetUser", func(t *testing.T) { testCreateAndGetUser(t, newStorage(t)) })
	t.Run("CreateUserDuplicateEmail", func(t *testing.T) { testCreateUserDuplicateEmail(t, newStorage(t)) })
	t.Run("FindUserByIDOrEmail", func(t *testing.T) { testFindUser(t, newStorage(t)) })
	t.Run("UpdateRolesAndList", func(t *testing.T) { testUpdateRolesAndList(t, newStorage(t)) })
	t.Run("DeleteUserRemovesTokens", func(t *testing.T) { testDeleteUser(t, newStorage(t)) })
	t.Run("UpsertRotatesPerDevice", func(t *testing.T) { testUpsertRotatesPerDevice(t, newStorage(t)) })
	t.Run("ConsumeIsSingleUse", func(t *testing.T) { testConsumeIsSingleUse(t, newStorage(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStorage(t)) })
	t.Run("DeleteAndRemoveAll", func(t *testing.T) { testDeleteAndRemoveAll(t, newStorage(t)) })
}

func NewUser(t *testing.T, email string) models.User {
	t.Helper()

	id, err := uuid.NewV4()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	hash := "hash"
	provider := models.ProviderNone

	return models.User{
		ID:           id,
		Email:        email,
		PasswordHash: &hash,
		Roles:        []models.Role{models.RoleUser},
		Provider:     &provider,
	}
}

func mustCreate(t *testing.T, st storage.Storage, email string) models.User {
	t.Helper()

	u, err := st.CreateUser(context.Background(), NewUser(t, email))
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func token(userID uuid.UUID, agent string) models.RefreshToken {
	return models.RefreshToken{
		Token:     googleuuid.NewString(),
		UserID:    userID,
		UserAgent: agent,
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond),
	}
}

func testCreateAndGetUser(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	created := mustCreate(t, st, "alice@example.com")

	got, err := st.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Fatalf("email: got %q", got.Email)
	}
	if got.PasswordHash == nil || *got.PasswordHash != "hash" {
		t.Fatalf("password hash not persisted: %v", got.PasswordHash)
	}
	if len(got.Roles) != 1 || got.Roles[0] != models.RoleUser {
		t.Fatalf("roles: got %v", got.Roles)
	}
	if got.Provider == nil || *got.Provider != models.ProviderNone {
		t.Fatalf("provider: got %v", got.Provider)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}

	byEmail, err := st.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Fatalf("id mismatch: %s vs %s", byEmail.ID, created.ID)
	}

	if _, err := st.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	missing, _ := uuid.NewV4()
	if _, err := st.GetUserByID(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateUserDuplicateEmail(t *testing.T, st storage.Storage) {
	mustCreate(t, st, "dup@example.com")

	_, err := st.CreateUser(context.Background(), NewUser(t, "dup@example.com"))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func testFindUser(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	created := mustCreate(t, st, "find@example.com")

	byID, err := st.FindUser(ctx, created.ID.String())
	if err != nil {
		t.Fatalf("FindUser(id): %v", err)
	}
	byEmail, err := st.FindUser(ctx, "find@example.com")
	if err != nil {
		t.Fatalf("FindUser(email): %v", err)
	}
	if byID.ID != created.ID || byEmail.ID != created.ID {
		t.Fatalf("FindUser returned a different user")
	}

	upper, err := st.FindUser(ctx, strings.ToUpper(created.ID.String()))
	if err != nil {
		t.Fatalf("FindUser(upper-case id): %v", err)
	}
	if upper.ID != created.ID {
		t.Fatalf("FindUser(upper-case id) returned a different user")
	}

	if _, err := st.FindUser(ctx, "missing@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUpdateRolesAndList(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	a := mustCreate(t, st, "a@example.com")
	mustCreate(t, st, "b@example.com")

	roles := []models.Role{models.RoleUser, models.RoleAdmin}
	if err := st.UpdateRoles(ctx, a.ID, roles); err != nil {
		t.Fatalf("UpdateRoles: %v", err)
	}
	got, err := st.GetUserByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !got.HasRole(models.RoleAdmin) || !got.HasRole(models.RoleUser) {
		t.Fatalf("roles: got %v", got.Roles)
	}

	missing, _ := uuid.NewV4()
	if err := st.UpdateRoles(ctx, missing, roles); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("ListUsers: got %d users", len(users))
	}
}

func testDeleteUser(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	u := mustCreate(t, st, "gone@example.com")

	rt := token(u.ID, "agent")
	if _, err := st.UpsertRefreshToken(ctx, rt); err != nil {
		t.Fatalf("UpsertRefreshToken: %v", err)
	}
	if err := st.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := st.GetUserByID(ctx, u.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := st.ConsumeRefreshToken(ctx, rt.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected token removed with user, got %v", err)
	}
	if err := st.DeleteUser(ctx, u.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func testUpsertRotatesPerDevice(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	u := mustCreate(t, st, "devices@example.com")

	first, err := st.UpsertRefreshToken(ctx, token(u.ID, "device-a"))
	if err != nil {
		t.Fatalf("UpsertRefreshToken: %v", err)
	}
	second, err := st.UpsertRefreshToken(ctx, token(u.ID, "device-a"))
	if err != nil {
		t.Fatalf("UpsertRefreshToken: %v", err)
	}
	if first.Token == second.Token {
		t.Fatalf("expected rotated token value")
	}
	if _, err := st.UpsertRefreshToken(ctx, token(u.ID, "device-b")); err != nil {
		t.Fatalf("UpsertRefreshToken: %v", err)
	}

	rows, err := st.ListRefreshTokens(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListRefreshTokens: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 device rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.UserAgent == "device-a" && row.Token != second.Token {
			t.Fatalf("device-a row holds %q, want %q", row.Token, second.Token)
		}
	}

	if _, err := st.ConsumeRefreshToken(ctx, first.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rotated-away token must be gone, got %v", err)
	}
}

func testConsumeIsSingleUse(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	u := mustCreate(t, st, "consume@example.com")

	rt := token(u.ID, "agent")
	if _, err := st.UpsertRefreshToken(ctx, rt); err != nil {
		t.Fatalf("UpsertRefreshToken: %v", err)
	}

	got, err := st.ConsumeRefreshToken(ctx, rt.Token)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken: %v", err)
	}
	if got.UserID != u.ID || got.UserAgent != "agent" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.ExpiresAt.Equal(rt.ExpiresAt) {
		t.Fatalf("expires_at: got %s want %s", got.ExpiresAt, rt.ExpiresAt)
	}

	if _, err := st.ConsumeRefreshToken(ctx, rt.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on replay, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	u := mustCreate(t, st, "race@example.com")

	rt := token(u.ID, "agent")
	if _, err := st.UpsertRefreshToken(ctx, rt); err != nil {
		t.Fatalf("UpsertRefreshToken: %v", err)
	}

	const workers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.ConsumeRefreshToken(ctx, rt.Token); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("expected exactly one consumer to win, got %d", won)
	}
}

func testDeleteAndRemoveAll(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	u := mustCreate(t, st, "logout@example.com")

	a := token(u.ID, "a")
	b := token(u.ID, "b")
	c := token(u.ID, "c")
	for _, rt := range []models.RefreshToken{a, b, c} {
		if _, err := st.UpsertRefreshToken(ctx, rt); err != nil {
			t.Fatalf("UpsertRefreshToken: %v", err)
		}
	}

	if err := st.DeleteRefreshToken(ctx, a.Token); err != nil {
		t.Fatalf("DeleteRefreshToken: %v", err)
	}
	if err := st.DeleteRefreshToken(ctx, a.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := st.RemoveAllRefreshTokensForUser(ctx, u.ID); err != nil {
		t.Fatalf("RemoveAllRefreshTokensForUser: %v", err)
	}
	rows, err := st.ListRefreshTokens(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListRefreshTokens: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}
