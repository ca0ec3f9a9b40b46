package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"auth_session/internal/models"
	"auth_session/internal/storage"

	"github.com/gofrs/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const userColumns = "id, email, password_hash, roles, provider, created_at, updated_at"

type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens (or creates) the database file at path and applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	const op = "storage.NewSQLiteStorage"

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: storage path is required", op)
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// One writer keeps delete-returning and upsert statements serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", op, err)
	}

	return &SQLiteStorage{
		db:  db,
		now: time.Now,
	}, nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "storage.CreateUser"

	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
		user.ID = id
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?)`, storage.UsersTable, userColumns)
	_, err = s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, string(roles), providerValue(user.Provider),
		toMillis(user.CreatedAt), toMillis(user.UpdatedAt))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return user, nil
}

func (s *SQLiteStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, userColumns, storage.UsersTable)
	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = ?`, userColumns, storage.UsersTable)
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *SQLiteStorage) FindUser(ctx context.Context, idOrEmail string) (models.User, error) {
	const op = "storage.FindUser"

	if id, err := uuid.FromString(idOrEmail); err == nil {
		user, err := s.GetUserByID(ctx, id)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := s.GetUserByEmail(ctx, idOrEmail)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at`, userColumns, storage.UsersTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return users, nil
}

func (s *SQLiteStorage) UpdateRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) error {
	const op = "storage.UpdateRoles"

	encoded, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET roles = ?, updated_at = ? WHERE id = ?`, storage.UsersTable)
	res, err := s.db.ExecContext(ctx, query, string(encoded), toMillis(s.now()), userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affected(op, res)
}

func (s *SQLiteStorage) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.DeleteUser"

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, storage.UsersTable)
	res, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affected(op, res)
}

func (s *SQLiteStorage) UpsertRefreshToken(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	const op = "storage.UpsertRefreshToken"

	query := fmt.Sprintf(`INSERT INTO %s (token, user_id, user_agent, expires_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (user_id, user_agent) DO UPDATE
	SET token = excluded.token, expires_at = excluded.expires_at
	RETURNING token, user_id, user_agent, expires_at`, storage.RefreshTokensTable)

	row, err := scanRefreshToken(s.db.QueryRowContext(ctx, query,
		token.Token, token.UserID, token.UserAgent, toMillis(token.ExpiresAt)))
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return row, nil
}

func (s *SQLiteStorage) ConsumeRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	const op = "storage.ConsumeRefreshToken"

	query := fmt.Sprintf(`DELETE FROM %s WHERE token = ?
	RETURNING token, user_id, user_agent, expires_at`, storage.RefreshTokensTable)

	row, err := scanRefreshToken(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return row, nil
}

func (s *SQLiteStorage) DeleteRefreshToken(ctx context.Context, token string) error {
	const op = "storage.DeleteRefreshToken"

	query := fmt.Sprintf(`DELETE FROM %s WHERE token = ?`, storage.RefreshTokensTable)
	res, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affected(op, res)
}

func (s *SQLiteStorage) ListRefreshTokens(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "storage.ListRefreshTokens"

	query := fmt.Sprintf(`SELECT token, user_id, user_agent, expires_at FROM %s
	WHERE user_id = ? ORDER BY user_agent`, storage.RefreshTokensTable)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tokens []models.RefreshToken
	for rows.Next() {
		row, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tokens = append(tokens, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return tokens, nil
}

func (s *SQLiteStorage) RemoveAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.RemoveAllRefreshTokensForUser"

	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, storage.RefreshTokensTable)
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SQLiteStorage) Close() {
	_ = s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var (
		user         models.User
		passwordHash sql.NullString
		roles        string
		provider     sql.NullString
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(&user.ID, &user.Email, &passwordHash, &roles, &provider, &createdAt, &updatedAt)
	if err != nil {
		return models.User{}, mapError(err)
	}

	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if provider.Valid {
		p := models.Provider(provider.String)
		user.Provider = &p
	}
	if err := json.Unmarshal([]byte(roles), &user.Roles); err != nil {
		return models.User{}, fmt.Errorf("decode roles: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)

	return user, nil
}

func scanRefreshToken(row scanner) (models.RefreshToken, error) {
	var (
		token     models.RefreshToken
		expiresAt int64
	)

	if err := row.Scan(&token.Token, &token.UserID, &token.UserAgent, &expiresAt); err != nil {
		return models.RefreshToken{}, mapError(err)
	}
	token.ExpiresAt = fromMillis(expiresAt)

	return token, nil
}

func affected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", storage.ErrAlreadyExists, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
		}
	}

	return err
}

func providerValue(p *models.Provider) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
