package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"auth_session/internal/auth"
	"auth_session/internal/metrics"
	"auth_session/internal/models"
	"auth_session/internal/storage"

	"github.com/gofrs/uuid"
)

const defaultRefreshTTLMonths = 1

// Verifier is the identity check the session flows build on.
type Verifier interface {
	VerifyPassword(ctx context.Context, identifier, secret string) (models.User, error)
	ResolveProviderIdentity(ctx context.Context, email string, provider models.Provider) (models.User, error)
}

type Minter interface {
	Mint(user models.User) (string, error)
}

// Sessions issues and rotates device-session credentials. It keeps no state
// of its own: every refresh token read or write goes straight to storage.
type Sessions struct {
	storage  storage.Storage
	verifier Verifier
	minter   Minter
	log      *slog.Logger
	metrics  *metrics.Metrics

	refreshTTLMonths int
	now              func() time.Time
}

type Option func(*Sessions)

func WithClock(now func() time.Time) Option {
	return func(s *Sessions) {
		s.now = now
	}
}

func WithRefreshTTLMonths(months int) Option {
	return func(s *Sessions) {
		if months > 0 {
			s.refreshTTLMonths = months
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sessions) {
		s.metrics = m
	}
}

func NewSessions(st storage.Storage, verifier Verifier, minter Minter, log *slog.Logger, opts ...Option) *Sessions {
	s := &Sessions{
		storage:          st,
		verifier:         verifier,
		minter:           minter,
		log:              log,
		refreshTTLMonths: defaultRefreshTTLMonths,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sessions) Login(ctx context.Context, identifier, secret, deviceAgent string) (models.TokenPair, error) {
	const op = "service.Login"

	user, err := s.verifier.VerifyPassword(ctx, identifier, secret)
	if err != nil {
		s.metrics.Login("password", result(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issueOrRotate(ctx, user, deviceAgent)
	if err != nil {
		s.metrics.Login("password", metrics.ResultError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Login("password", metrics.ResultSuccess)

	return pair, nil
}

func (s *Sessions) ProviderLogin(ctx context.Context, email, deviceAgent string, provider models.Provider) (models.TokenPair, error) {
	const op = "service.ProviderLogin"

	method := strings.ToLower(string(provider))

	user, err := s.verifier.ResolveProviderIdentity(ctx, email, provider)
	if err != nil {
		s.metrics.Login(method, result(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issueOrRotate(ctx, user, deviceAgent)
	if err != nil {
		s.metrics.Login(method, metrics.ResultError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Login(method, metrics.ResultSuccess)

	return pair, nil
}

// Refresh consumes the presented token and issues a new pair for the device.
// A token is good for exactly one exchange; replays find nothing.
func (s *Sessions) Refresh(ctx context.Context, presentedToken, deviceAgent string) (models.TokenPair, error) {
	const op = "service.Refresh"

	pair, err := s.refresh(ctx, presentedToken, deviceAgent)
	if err != nil {
		s.metrics.Refresh(result(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Refresh(metrics.ResultSuccess)

	return pair, nil
}

func (s *Sessions) refresh(ctx context.Context, presentedToken, deviceAgent string) (models.TokenPair, error) {
	if presentedToken == "" {
		return models.TokenPair{}, models.ErrUnauthenticated
	}

	row, err := s.storage.ConsumeRefreshToken(ctx, presentedToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.TokenPair{}, models.ErrUnauthenticated
		}
		return models.TokenPair{}, err
	}

	if row.Expired(s.now()) {
		s.log.Debug("refresh token expired",
			slog.String("user_id", row.UserID.String()),
			slog.Time("expires_at", row.ExpiresAt),
		)
		return models.TokenPair{}, models.ErrUnauthenticated
	}

	user, err := s.storage.GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.TokenPair{}, fmt.Errorf("dangling refresh token: %w", models.ErrUnauthenticated)
		}
		return models.TokenPair{}, err
	}

	return s.issueOrRotate(ctx, user, deviceAgent)
}

// Logout ends the device-session holding token. Unknown tokens are not an error.
func (s *Sessions) Logout(ctx context.Context, presentedToken string) error {
	const op = "service.Logout"

	if presentedToken == "" {
		return fmt.Errorf("%s: %w", op, models.ErrUnauthenticated)
	}

	if err := s.storage.DeleteRefreshToken(ctx, presentedToken); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Logout()

	return nil
}

// LogoutAll ends every device-session of the user.
func (s *Sessions) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	const op = "service.LogoutAll"

	if err := s.storage.RemoveAllRefreshTokensForUser(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Devices lists the user's active device-sessions with token values blanked.
func (s *Sessions) Devices(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "service.Devices"

	rows, err := s.storage.ListRefreshTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	devices := make([]models.RefreshToken, 0, len(rows))
	for _, row := range rows {
		if row.Expired(now) {
			continue
		}
		row.Token = ""
		devices = append(devices, row)
	}

	return devices, nil
}

// issueOrRotate writes the device row with a single upsert keyed by
// (user, agent), then mints the access token.
func (s *Sessions) issueOrRotate(ctx context.Context, user models.User, deviceAgent string) (models.TokenPair, error) {
	row, err := s.storage.UpsertRefreshToken(ctx, models.RefreshToken{
		Token:     auth.NewRefreshTokenValue(),
		UserID:    user.ID,
		UserAgent: deviceAgent,
		ExpiresAt: s.now().AddDate(0, s.refreshTTLMonths, 0),
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	accessToken, err := s.minter.Mint(user)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: row,
	}, nil
}

func result(err error) string {
	switch {
	case errors.Is(err, models.ErrUnauthenticated), errors.Is(err, models.ErrForbidden):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
