package storage

import (
	"context"
	"errors"

	"auth_session/internal/models"

	"github.com/gofrs/uuid"
)

const (
	UsersTable         = "users"
	RefreshTokensTable = "refresh_tokens"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage is the credential store. Every mutation is a single atomic
// statement; callers hold no locks of their own.
type Storage interface {

	// Users
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUser(ctx context.Context, idOrEmail string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error

	// Refresh tokens

	// UpsertRefreshToken inserts the row or, when one already exists for
	// (UserID, UserAgent), replaces its token value and expiry in place.
	UpsertRefreshToken(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)
	// ConsumeRefreshToken deletes the row holding token and returns it.
	ConsumeRefreshToken(ctx context.Context, token string) (models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	ListRefreshTokens(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)
	RemoveAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error

	Close()
}
