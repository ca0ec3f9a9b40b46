// Package memory keeps users and refresh tokens in process memory. It is
// meant for tests and the "memory" driver in local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"auth_session/internal/models"
	"auth_session/internal/storage"

	"github.com/gofrs/uuid"
)

type deviceKey struct {
	userID    uuid.UUID
	userAgent string
}

type Storage struct {
	mu sync.RWMutex

	users   map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID

	tokens   map[string]models.RefreshToken
	byDevice map[deviceKey]string

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		users:    make(map[uuid.UUID]models.User),
		byEmail:  make(map[string]uuid.UUID),
		tokens:   make(map[string]models.RefreshToken),
		byDevice: make(map[deviceKey]string),
		now:      time.Now,
	}
}

func (s *Storage) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "memory.CreateUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
		user.ID = id
	}
	if _, ok := s.users[user.ID]; ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	now := s.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Roles = slices.Clone(user.Roles)

	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID

	return cloneUser(user), nil
}

func (s *Storage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "memory.GetUserByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return cloneUser(user), nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "memory.GetUserByEmail"

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return cloneUser(s.users[id]), nil
}

func (s *Storage) FindUser(ctx context.Context, idOrEmail string) (models.User, error) {
	const op = "memory.FindUser"

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, err := uuid.FromString(idOrEmail); err == nil {
		if user, ok := s.users[id]; ok {
			return cloneUser(user), nil
		}
	}
	if id, ok := s.byEmail[idOrEmail]; ok {
		return cloneUser(s.users[id]), nil
	}

	return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, cloneUser(user))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	return users, nil
}

func (s *Storage) UpdateRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) error {
	const op = "memory.UpdateRoles"

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	user.Roles = slices.Clone(roles)
	user.UpdatedAt = s.now().UTC()
	s.users[userID] = user

	return nil
}

func (s *Storage) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	const op = "memory.DeleteUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	delete(s.users, userID)
	delete(s.byEmail, user.Email)
	s.removeTokensLocked(userID)

	return nil
}

func (s *Storage) UpsertRefreshToken(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	const op = "memory.UpsertRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return models.RefreshToken{}, fmt.Errorf("%s: user: %w", op, storage.ErrNotFound)
	}
	if _, ok := s.tokens[token.Token]; ok {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	key := deviceKey{userID: token.UserID, userAgent: token.UserAgent}
	if old, ok := s.byDevice[key]; ok {
		delete(s.tokens, old)
	}
	s.tokens[token.Token] = token
	s.byDevice[key] = token.Token

	return token, nil
}

func (s *Storage) ConsumeRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	const op = "memory.ConsumeRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tokens[token]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	s.deleteTokenLocked(row)

	return row, nil
}

func (s *Storage) DeleteRefreshToken(ctx context.Context, token string) error {
	const op = "memory.DeleteRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tokens[token]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	s.deleteTokenLocked(row)

	return nil
}

func (s *Storage) ListRefreshTokens(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []models.RefreshToken
	for _, row := range s.tokens {
		if row.UserID == userID {
			tokens = append(tokens, row)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].UserAgent < tokens[j].UserAgent
	})

	return tokens, nil
}

func (s *Storage) RemoveAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeTokensLocked(userID)

	return nil
}

func (s *Storage) Close() {}

func (s *Storage) deleteTokenLocked(row models.RefreshToken) {
	delete(s.tokens, row.Token)
	key := deviceKey{userID: row.UserID, userAgent: row.UserAgent}
	if s.byDevice[key] == row.Token {
		delete(s.byDevice, key)
	}
}

func (s *Storage) removeTokensLocked(userID uuid.UUID) {
	for _, row := range s.tokens {
		if row.UserID == userID {
			s.deleteTokenLocked(row)
		}
	}
}

func cloneUser(u models.User) models.User {
	u.Roles = slices.Clone(u.Roles)
	return u
}
