package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avdonin/webmarket/internal/audit"
	"github.com/avdonin/webmarket/internal/auth"
	"github.com/avdonin/webmarket/internal/logging"
	"github.com/avdonin/webmarket/internal/middleware"
	"github.com/avdonin/webmarket/internal/mykafka"
	"github.com/avdonin/webmarket/internal/session"
)

type AuthHandler struct {
	Auth     *auth.Service
	Producer *mykafka.Producer
	Audit    *audit.Trail
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req auth.RegisterRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Auth.Register(ctx, req)
	if err != nil {
		return httpError(err)
	}

	publish(ctx, c, h.Producer, "user_events", fmt.Sprint(user.ID), map[string]any{
		"type":     "user_registered",
		"user_id":  user.ID,
		"username": user.Username,
	})

	return c.JSON(http.StatusCreated, user)
}

// LoginJWT returns a token pair in the body for the client to store and
// replay as a bearer header plus a refresh call.
func (h *AuthHandler) LoginJWT(c echo.Context) error {
	ctx := c.Request().Context()

	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Auth.LoginWithJWT(ctx, req)
	if err != nil {
		h.Audit.Record(ctx, audit.Event{Type: "login_failed", Username: req.Username, Detail: "jwt"})
		return httpError(err)
	}

	publish(ctx, c, h.Producer, "user_events", fmt.Sprint(res.User.ID), map[string]any{
		"type":     "user_logged_in",
		"user_id":  res.User.ID,
		"username": res.User.Username,
		"mode":     "jwt",
	})

	return c.JSON(http.StatusOK, echo.Map{
		"user":          res.User,
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
	})
}

// LoginSession sets the opaque session id as an HTTP-only strict cookie.
func (h *AuthHandler) LoginSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Auth.LoginWithSession(ctx, req)
	if err != nil {
		h.Audit.Record(ctx, audit.Event{Type: "login_failed", Username: req.Username, Detail: "session"})
		return httpError(err)
	}

	c.SetCookie(CreateSessionCookie(res.SessionID, time.Now().Add(session.SessionTTL)))

	publish(ctx, c, h.Producer, "user_events", fmt.Sprint(res.User.ID), map[string]any{
		"type":     "user_logged_in",
		"user_id":  res.User.ID,
		"username": res.User.Username,
		"mode":     "session",
	})

	return c.JSON(http.StatusOK, echo.Map{"user": res.User})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	pair, err := h.Auth.RefreshTokens(ctx, req.RefreshToken)
	if err != nil {
		h.Audit.Record(ctx, audit.Event{Type: "refresh_rejected"})
		return httpError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// Logout destroys whichever credential the request presents: a bearer token
// gets its jti revoked, a session cookie gets its row deleted. Calling it
// twice is not an error.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		raw := strings.TrimPrefix(authHeader, "Bearer ")
		if err := h.Auth.LogoutJWT(ctx, raw); err != nil {
			l.Error("logout_failed", "reason", "cannot revoke token", "error", err)
			return httpError(err)
		}
		h.Audit.Record(ctx, audit.Event{Type: "token_revoked"})
		return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
	}

	if ck, err := c.Cookie(SessionCookie); err == nil && ck.Value != "" {
		if err := h.Auth.Logout(ctx, ck.Value); err != nil {
			l.Error("logout_failed", "reason", "cannot destroy session", "error", err)
			return httpError(err)
		}
	}
	c.SetCookie(DeleteSessionCookie())
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the sanitized current user per the resolved identity.
func (h *AuthHandler) Me(c echo.Context) error {
	id := middleware.FromContext(c)
	if !id.Authenticated() {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return c.JSON(http.StatusOK, auth.Sanitize(id.User))
}
