package session

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/avdonin/webmarket/internal/config"
	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/repo"
	"github.com/avdonin/webmarket/internal/token"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.Migrate(db))

	store := repo.New(db)
	tokens, err := token.NewService([]byte("test-access-secret"), []byte("test-refresh-secret"), store)
	require.NoError(t, err)
	return NewManager(store, tokens)
}

func createUser(t *testing.T, m *Manager, username string) *models.User {
	t.Helper()
	u := models.User{
		Username:     username,
		Email:        username + "@x.com",
		PasswordHash: "irrelevant",
		Role:         "user",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, m.Repo.CreateUser(context.Background(), &u))
	return &u
}

func TestSession_CreateValidateDestroy(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()
	u := createUser(t, m, "alice")

	id, err := m.CreateSession(ctx, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.ValidateSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, m.DestroySession(ctx, id))
	got, err = m.ValidateSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Destroying twice is not an error.
	require.NoError(t, m.DestroySession(ctx, id))
}

func TestSession_ExpiredLooksAbsent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()
	u := createUser(t, m, "bob")

	expired := models.Session{
		ID:        "expired-session",
		UserID:    u.ID,
		CreatedAt: time.Now().Add(-25 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, m.Repo.CreateSession(ctx, &expired))

	got, err := m.ValidateSession(ctx, expired.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	missing, err := m.ValidateSession(ctx, "never-existed")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJWTSession_ValidateBothModes(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()
	u := createUser(t, m, "carol")

	pair, err := m.CreateJWTSession(u)
	require.NoError(t, err)

	// Claims-trust mode synthesizes the user from the token alone.
	trusted, err := m.ValidateJWTSession(ctx, pair.AccessToken, false)
	require.NoError(t, err)
	require.NotNil(t, trusted)
	assert.Equal(t, u.ID, trusted.ID)
	assert.Equal(t, "carol", trusted.Username)
	assert.Empty(t, trusted.Email)
	assert.Empty(t, trusted.PasswordHash)

	// DB-check mode re-fetches the authoritative row.
	checked, err := m.ValidateJWTSession(ctx, pair.AccessToken, true)
	require.NoError(t, err)
	require.NotNil(t, checked)
	assert.Equal(t, "carol@x.com", checked.Email)
}

func TestJWTSession_DestroyRevokes(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()
	u := createUser(t, m, "dave")

	pair, err := m.CreateJWTSession(u)
	require.NoError(t, err)

	require.NoError(t, m.DestroyJWTSession(ctx, pair.AccessToken))

	// Signature and expiry are still fine, only the db-checked path rejects.
	trusted, err := m.ValidateJWTSession(ctx, pair.AccessToken, false)
	require.NoError(t, err)
	assert.NotNil(t, trusted)

	checked, err := m.ValidateJWTSession(ctx, pair.AccessToken, true)
	require.NoError(t, err)
	assert.Nil(t, checked)

	// Idempotent: destroying an already revoked token works, and destroying
	// garbage is a no-op.
	require.NoError(t, m.DestroyJWTSession(ctx, pair.AccessToken))
	require.NoError(t, m.DestroyJWTSession(ctx, "garbage"))
}

func TestRefreshTokens_RotationIsSingleUse(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()
	u := createUser(t, m, "erin")

	pair, err := m.CreateJWTSession(u)
	require.NoError(t, err)

	fresh, err := m.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.NotEqual(t, pair.AccessToken, fresh.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

	// The first rotation revoked the shared jti, replaying the old refresh
	// token must fail.
	replay, err := m.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Nil(t, replay)

	// The old access token dies with the jti too.
	checked, err := m.ValidateJWTSession(ctx, pair.AccessToken, true)
	require.NoError(t, err)
	assert.Nil(t, checked)

	// The fresh pair keeps working.
	again, err := m.RefreshTokens(ctx, fresh.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestRefreshTokens_Invalid(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	pair, err := m.RefreshTokens(ctx, "not-a-jwt")
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()
	u := createUser(t, m, "frank")

	now := time.Now()
	expired := models.Session{ID: "old", UserID: u.ID, CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour)}
	require.NoError(t, m.Repo.CreateSession(ctx, &expired))

	liveID, err := m.CreateSession(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, m.Repo.RevokeToken(ctx, "stale-jti", now.Add(-time.Minute)))
	require.NoError(t, m.Repo.RevokeToken(ctx, "live-jti", now.Add(time.Hour)))

	require.NoError(t, m.CleanupExpired(ctx))

	var sessions int64
	require.NoError(t, m.Repo.DB.Model(&models.Session{}).Count(&sessions).Error)
	assert.EqualValues(t, 1, sessions)

	got, err := m.ValidateSession(ctx, liveID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	revoked, err := m.Repo.IsTokenRevoked(ctx, "live-jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	stale, err := m.Repo.IsTokenRevoked(ctx, "stale-jti")
	require.NoError(t, err)
	assert.False(t, stale)
}
