package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/avdonin/webmarket/internal/logging"
	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/repo"
	"github.com/avdonin/webmarket/internal/token"
)

const SessionTTL = 24 * time.Hour

// Manager owns both credential modes: opaque cookie sessions backed by store
// rows and stateless JWT sessions backed by the token service.
type Manager struct {
	Repo   *repo.GormRepo
	Tokens *token.Service
}

func NewManager(r *repo.GormRepo, t *token.Service) *Manager {
	return &Manager{Repo: r, Tokens: t}
}

// CreateSession persists a fresh opaque session and returns its id for the
// caller to set as an HTTP-only cookie. One row per login, no renewal.
func (m *Manager) CreateSession(ctx context.Context, userID uint) (string, error) {
	now := time.Now()
	s := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	if err := m.Repo.CreateSession(ctx, &s); err != nil {
		return "", err
	}
	return s.ID, nil
}

// ValidateSession resolves a session id to its user. An absent row and an
// expired one look identical to the caller: nil user, nil error.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*models.User, error) {
	s, err := m.Repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if time.Now().After(s.ExpiresAt) {
		return nil, nil
	}

	user, err := m.Repo.GetUserByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// DestroySession is idempotent.
func (m *Manager) DestroySession(ctx context.Context, sessionID string) error {
	return m.Repo.DeleteSession(ctx, sessionID)
}

// CreateJWTSession mints a token pair, no store write.
func (m *Manager) CreateJWTSession(user *models.User) (*token.Pair, error) {
	return m.Tokens.Generate(user)
}

// ValidateJWTSession resolves a bearer token to a user. With requireDBCheck
// the token is checked against the revocation ledger and the authoritative
// user row is re-fetched. Without it the claims are trusted as-is and the
// returned user carries no email or password hash.
func (m *Manager) ValidateJWTSession(ctx context.Context, raw string, requireDBCheck bool) (*models.User, error) {
	if !requireDBCheck {
		claims, err := m.Tokens.Verify(ctx, raw, token.Stateless)
		if err != nil || claims == nil {
			return nil, err
		}
		return &models.User{
			ID:       claims.UserID,
			Username: claims.Username,
			Role:     claims.Role,
		}, nil
	}

	claims, err := m.Tokens.Verify(ctx, raw, token.RevocationChecked)
	if err != nil || claims == nil {
		return nil, err
	}
	user, err := m.Repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// RefreshTokens rotates a refresh token: verify it (ledger included), load
// the user, revoke the shared jti, mint a new pair. The old refresh token is
// therefore single-use.
func (m *Manager) RefreshTokens(ctx context.Context, rawRefresh string) (*token.Pair, error) {
	claims, err := m.Tokens.VerifyRefresh(ctx, rawRefresh)
	if err != nil || claims == nil {
		return nil, err
	}

	user, err := m.Repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// The ledger row only needs to outlive the paired access token, but the
	// refresh token is checked against it too, so it must cover the refresh
	// token's own lifetime.
	if claims.ID != "" {
		if err := m.Tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return nil, err
		}
	}

	return m.Tokens.Generate(user)
}

// DestroyJWTSession revokes the jti of a still-valid access token. An already
// invalid token is a no-op, logout stays idempotent.
func (m *Manager) DestroyJWTSession(ctx context.Context, rawAccess string) error {
	claims, err := m.Tokens.Verify(ctx, rawAccess, token.Stateless)
	if err != nil || claims == nil {
		return err
	}
	if claims.ID == "" {
		return nil
	}
	// The ledger row must outlive the paired refresh token, which expires
	// RefreshTTL after the pair was issued.
	exp := time.Now().Add(token.RefreshTTL)
	if claims.IssuedAt != nil {
		exp = claims.IssuedAt.Time.Add(token.RefreshTTL)
	}
	return m.Tokens.Revoke(ctx, claims.ID, exp)
}

// CleanupExpired deletes sessions and ledger rows whose expiry has passed.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	now := time.Now()
	sessions, err := m.Repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return err
	}
	revoked, err := m.Repo.DeleteExpiredRevocations(ctx, now)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("cleanup_done", "sessions", sessions, "revoked_tokens", revoked)
	return nil
}

// RunSweeper runs CleanupExpired on a fixed cadence until ctx is cancelled.
// It is scheduled independently of request handling.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.CleanupExpired(ctx); err != nil {
				logging.FromContext(ctx).Error("cleanup_failed", "error", err)
			}
		}
	}
}
