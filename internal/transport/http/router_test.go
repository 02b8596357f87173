package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/avdonin/webmarket/internal/auth"
	"github.com/avdonin/webmarket/internal/config"
	"github.com/avdonin/webmarket/internal/handlers"
	mw "github.com/avdonin/webmarket/internal/middleware"
	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/order"
	"github.com/avdonin/webmarket/internal/repo"
	"github.com/avdonin/webmarket/internal/session"
	"github.com/avdonin/webmarket/internal/token"
)

type testEnv struct {
	E  *echo.Echo
	DB *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
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
	sessions := session.NewManager(store, tokens)
	authSvc := auth.NewService(store, sessions)
	orderSvc := order.NewService(store)

	e := echo.New()
	Register(e, &Deps{
		AuthService:  authSvc,
		AuthHandler:  &handlers.AuthHandler{Auth: authSvc},
		OrderHandler: &handlers.OrderHandler{Orders: orderSvc},
		Resolver:     mw.Config{RequireDBCheck: true},
	})

	return &testEnv{E: e, DB: db}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)
	return rec
}

func registerAlice(t *testing.T, env *testEnv) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/register", map[string]string{
		"username": "alice",
		"email":    "alice@x.com",
		"password": "password1",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == handlers.SessionCookie {
			return ck
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestEndToEnd_SessionFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	registerAlice(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/login/session", map[string]string{
		"username": "alice", "password": "password1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ck := sessionCookie(t, rec)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, ck.SameSite)

	me := env.do(t, http.MethodGet, "/api/v1/me", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	})
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &got))
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, "alice@x.com", got["email"])
	assert.NotContains(t, me.Body.String(), "password")
	assert.NotContains(t, me.Body.String(), "hash")
}

func TestEndToEnd_JWTFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	registerAlice(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/login", map[string]string{
		"username": "alice", "password": "password1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	me := env.do(t, http.MethodGet, "/api/v1/me", nil, func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	})
	require.Equal(t, http.StatusOK, me.Code)

	// Rotate, then replay the old refresh token: the second call must fail.
	refresh := env.do(t, http.MethodPost, "/api/v1/refresh", map[string]string{
		"refresh_token": login.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())

	replay := env.do(t, http.MethodPost, "/api/v1/refresh", map[string]string{
		"refresh_token": login.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
}

func TestEndToEnd_LogoutJWTRevokes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	registerAlice(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/login", map[string]string{
		"username": "alice", "password": "password1",
	}, nil)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	bearer := func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	}

	out := env.do(t, http.MethodPost, "/api/v1/logout", nil, bearer)
	require.Equal(t, http.StatusOK, out.Code)

	// Idempotent: a second logout with the same token is fine.
	out = env.do(t, http.MethodPost, "/api/v1/logout", nil, bearer)
	require.Equal(t, http.StatusOK, out.Code)

	// The resolver runs with a db check, so the revoked token no longer
	// resolves an identity.
	me := env.do(t, http.MethodGet, "/api/v1/me", nil, bearer)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestEndToEnd_DuplicateRegister(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	registerAlice(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/register", map[string]string{
		"username": "alice",
		"email":    "other@x.com",
		"password": "password1",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEndToEnd_OrderFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	registerAlice(t, env)

	p := models.Product{Name: "tea", Description: "green", Price: 3.50, Count: 5}
	require.NoError(t, env.DB.Create(&p).Error)

	rec := env.do(t, http.MethodPost, "/api/v1/login", map[string]string{
		"username": "alice", "password": "password1",
	}, nil)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	bearer := func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	}

	// Unauthenticated order creation is rejected.
	anon := env.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"items": []map[string]any{{"product_id": p.ID, "quantity": 2}},
	}, nil)
	require.Equal(t, http.StatusUnauthorized, anon.Code)

	created := env.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"items": []map[string]any{{"product_id": p.ID, "quantity": 2}},
	}, bearer)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	var resp struct {
		Total float64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))
	assert.InDelta(t, 7.00, resp.Total, 1e-9)

	// Missing product rolls the whole order back.
	bad := env.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"items": []map[string]any{{"product_id": 9999, "quantity": 1}},
	}, bearer)
	require.Equal(t, http.StatusBadRequest, bad.Code)

	var orders int64
	require.NoError(t, env.DB.Model(&models.Order{}).Count(&orders).Error)
	assert.EqualValues(t, 1, orders)

	list := env.do(t, http.MethodGet, "/api/v1/orders", nil, bearer)
	require.Equal(t, http.StatusOK, list.Code)
}

func TestEndToEnd_AdminSurface(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	registerAlice(t, env)

	// Plain user is rejected by the role gate.
	rec := env.do(t, http.MethodPost, "/api/v1/login", map[string]string{
		"username": "alice", "password": "password1",
	}, nil)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	denied := env.do(t, http.MethodPost, "/api/v1/admin/products", map[string]any{
		"name": "tea", "description": "green", "price": 3.5,
	}, func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	})
	assert.Equal(t, http.StatusForbidden, denied.Code)

	// No fallback on the machine-only surface, even with a session.
	noToken := env.do(t, http.MethodPost, "/api/v1/admin/products", map[string]any{
		"name": "tea", "description": "green", "price": 3.5,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, noToken.Code)

	// Promote alice and retry.
	require.NoError(t, env.DB.Model(&models.User{}).Where("username = ?", "alice").
		Update("role", "admin").Error)

	rec = env.do(t, http.MethodPost, "/api/v1/login", map[string]string{
		"username": "alice", "password": "password1",
	}, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	ok := env.do(t, http.MethodPost, "/api/v1/admin/products", map[string]any{
		"name": "tea", "description": "green", "price": 3.5,
	}, func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	})
	assert.Equal(t, http.StatusCreated, ok.Code, ok.Body.String())
}
