package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"auth_session/internal/metrics"
	"auth_session/internal/models"
	"auth_session/internal/storage"

	"github.com/gofrs/uuid"
)

var ErrUserNotFound = errors.New("user not found")

// Registrar creates password accounts.
type Registrar interface {
	Register(ctx context.Context, email, password string) (models.User, error)
}

// Principal is the authenticated caller of a user-management operation.
type Principal struct {
	ID    uuid.UUID
	Roles []models.Role
}

func (p Principal) IsAdmin() bool {
	return slices.Contains(p.Roles, models.RoleAdmin)
}

type Users struct {
	storage   storage.Storage
	registrar Registrar
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewUsers(st storage.Storage, registrar Registrar, log *slog.Logger, m *metrics.Metrics) *Users {
	return &Users{
		storage:   st,
		registrar: registrar,
		log:       log,
		metrics:   m,
	}
}

func (u *Users) Register(ctx context.Context, email, password string) (models.User, error) {
	const op = "service.Register"

	user, err := u.registrar.Register(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidInput):
			u.metrics.Registration(metrics.ResultRejected)
		default:
			u.metrics.Registration(metrics.ResultError)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.metrics.Registration(metrics.ResultSuccess)
	u.log.Info("user registered", slog.String("user_id", user.ID.String()))

	return user, nil
}

func (u *Users) Find(ctx context.Context, idOrEmail string) (models.User, error) {
	const op = "service.FindUser"

	user, err := u.storage.FindUser(ctx, idOrEmail)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, notFound(err))
	}

	return user, nil
}

func (u *Users) List(ctx context.Context) ([]models.User, error) {
	const op = "service.ListUsers"

	users, err := u.storage.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

// Delete removes an account. Callers may delete themselves; admins may delete anyone.
func (u *Users) Delete(ctx context.Context, id uuid.UUID, caller Principal) error {
	const op = "service.DeleteUser"

	if caller.ID != id && !caller.IsAdmin() {
		return fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}

	if err := u.storage.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err))
	}

	u.log.Info("user deleted", slog.String("user_id", id.String()), slog.String("by", caller.ID.String()))

	return nil
}

func (u *Users) AssignRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	const op = "service.AssignRole"

	user, err := u.storage.GetUserByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err))
	}
	if user.HasRole(role) {
		return nil
	}

	if err := u.storage.UpdateRoles(ctx, id, append(user.Roles, role)); err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err))
	}

	return nil
}

// RemoveRole drops a role. The last role cannot be removed: roles are never empty.
func (u *Users) RemoveRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	const op = "service.RemoveRole"

	user, err := u.storage.GetUserByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err))
	}
	if !user.HasRole(role) {
		return nil
	}

	roles := slices.DeleteFunc(slices.Clone(user.Roles), func(r models.Role) bool { return r == role })
	if len(roles) == 0 {
		return fmt.Errorf("%s: %w: user must keep at least one role", op, models.ErrInvalidInput)
	}

	if err := u.storage.UpdateRoles(ctx, id, roles); err != nil {
		return fmt.Errorf("%s: %w", op, notFound(err))
	}

	return nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
