package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"auth_session/internal/models"
	"auth_session/internal/storage"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

//go:embed schema.sql
var schema string

const (
	userColumns  = "id, email, password_hash, roles, provider, created_at, updated_at"
	tokenColumns = "token, user_id, user_agent, expires_at"
)

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, DbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	conn, err := pgxpool.Connect(ctx, DbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db: conn,
	}, nil
}

// Migrate applies the bundled schema. It is safe to run on every start.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	const op = "storage.Migrate"

	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "storage.CreateUser"

	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
		user.ID = id
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, email, password_hash, roles, provider)
	VALUES ($1, $2, $3, $4, $5) RETURNING %s;`, storage.UsersTable, userColumns)

	created, err := scanUser(p.db.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, rolesValue(user.Roles), providerValue(user.Provider)))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return created, nil
}

func (p *PostgresStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id=$1;", userColumns, storage.UsersTable)

	user, err := scanUser(p.db.QueryRow(ctx, query, userID))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE email=$1;", userColumns, storage.UsersTable)

	user, err := scanUser(p.db.QueryRow(ctx, query, email))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) FindUser(ctx context.Context, idOrEmail string) (models.User, error) {
	const op = "storage.FindUser"

	if id, err := uuid.FromString(idOrEmail); err == nil {
		user, err := p.GetUserByID(ctx, id)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := p.GetUserByEmail(ctx, idOrEmail)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at;", userColumns, storage.UsersTable)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return users, fmt.Errorf("%s: %w", op, err)
		}

		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return users, nil
}

func (p *PostgresStorage) UpdateRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) error {
	const op = "storage.UpdateRoles"

	query := fmt.Sprintf("UPDATE %s SET roles=$1, updated_at=now() WHERE id=$2", storage.UsersTable)
	tag, err := p.db.Exec(ctx, query, rolesValue(roles), userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.DeleteUser"

	query := fmt.Sprintf("DELETE FROM %s WHERE id=$1", storage.UsersTable)
	tag, err := p.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpsertRefreshToken relies on uq_refresh_tokens_device, so concurrent logins
// from one device end up with a single row.
func (p *PostgresStorage) UpsertRefreshToken(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	const op = "storage.UpsertRefreshToken"

	query := fmt.Sprintf(`INSERT INTO %s (%s)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, user_agent) DO UPDATE
	SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
	RETURNING %s`, storage.RefreshTokensTable, tokenColumns, tokenColumns)

	row, err := scanRefreshToken(p.db.QueryRow(ctx, query, token.Token, token.UserID, token.UserAgent, token.ExpiresAt))
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return row, nil
}

func (p *PostgresStorage) ConsumeRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	const op = "storage.ConsumeRefreshToken"

	query := fmt.Sprintf(`DELETE FROM %s WHERE token=$1 RETURNING %s`, storage.RefreshTokensTable, tokenColumns)

	row, err := scanRefreshToken(p.db.QueryRow(ctx, query, token))
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return row, nil
}

func (p *PostgresStorage) DeleteRefreshToken(ctx context.Context, token string) error {
	const op = "storage.DeleteRefreshToken"

	query := fmt.Sprintf("DELETE FROM %s WHERE token=$1", storage.RefreshTokensTable)
	tag, err := p.db.Exec(ctx, query, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) ListRefreshTokens(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "storage.ListRefreshTokens"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id=$1 ORDER BY user_agent", tokenColumns, storage.RefreshTokensTable)

	rows, err := p.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tokens []models.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return tokens, nil
}

func (p *PostgresStorage) RemoveAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.RemoveAllRefreshTokensForUser"

	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", storage.RefreshTokensTable)
	if _, err := p.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *PostgresStorage) Close() {
	p.db.Close()
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user     models.User
		roles    []string
		provider *string
	)

	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &roles, &provider, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return models.User{}, mapError(err)
	}

	user.Roles = make([]models.Role, 0, len(roles))
	for _, r := range roles {
		user.Roles = append(user.Roles, models.Role(r))
	}
	if provider != nil {
		p := models.Provider(*provider)
		user.Provider = &p
	}

	return user, nil
}

func scanRefreshToken(row pgx.Row) (models.RefreshToken, error) {
	var token models.RefreshToken

	if err := row.Scan(&token.Token, &token.UserID, &token.UserAgent, &token.ExpiresAt); err != nil {
		return models.RefreshToken{}, mapError(err)
	}

	return token, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pgErr.ConstraintName)
		}
	}

	return err
}

func rolesValue(roles []models.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func providerValue(p *models.Provider) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}
