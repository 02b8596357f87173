package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avdonin/webmarket/internal/auth"
	"github.com/avdonin/webmarket/internal/logging"
	"github.com/avdonin/webmarket/internal/models"
)

const identityKey = "identity"

type Source int

const (
	SourceNone Source = iota
	SourceSession
	SourceToken
)

// Identity is the resolved credential of one request. SourceNone means the
// request is anonymous, which is a normal outcome, not a failure.
type Identity struct {
	Source      Source
	User        *models.User
	SessionID   string
	AccessToken string
}

func (id Identity) Authenticated() bool {
	return id.Source != SourceNone && id.User != nil
}

// Config tunes the resolver. PreferJWT drops the cookie fallback entirely,
// RequireDBCheck trades a store round-trip for revocation correctness.
type Config struct {
	PreferJWT      bool
	RequireDBCheck bool
}

// FromContext returns the identity the resolver attached, anonymous if the
// resolver did not run.
func FromContext(c echo.Context) Identity {
	if id, ok := c.Get(identityKey).(Identity); ok {
		return id
	}
	return Identity{}
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// ResolveIdentity inspects the request once, bearer token first, session
// cookie second. The order is a policy: a client presenting both credentials
// must resolve deterministically. The middleware never rejects, downstream
// gates decide what an absent identity means.
func ResolveIdentity(svc *auth.Service, cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			l := logging.FromContext(ctx).With("mw", "resolve_identity")

			if raw := bearerToken(c); raw != "" {
				user, err := svc.ValidateJWTSession(ctx, raw, cfg.RequireDBCheck)
				if err != nil {
					l.Error("identity_error", "source", "token", "error", err)
					return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
				}
				if user != nil {
					c.Set(identityKey, Identity{Source: SourceToken, User: user, AccessToken: raw})
					return next(c)
				}
				l.Warn("identity_rejected", "source", "token")
			}

			if !cfg.PreferJWT {
				if ck, err := c.Cookie("session_id"); err == nil && ck.Value != "" {
					user, err := svc.ValidateSession(ctx, ck.Value)
					if err != nil {
						l.Error("identity_error", "source", "session", "error", err)
						return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
					}
					if user != nil {
						c.Set(identityKey, Identity{Source: SourceSession, User: user, SessionID: ck.Value})
						return next(c)
					}
					l.Warn("identity_rejected", "source", "session")
				}
			}

			c.Set(identityKey, Identity{})
			return next(c)
		}
	}
}

// RequireBearer is the strict variant for machine-only surfaces: a bearer
// token is mandatory and anything else is an immediate 401, no fallback.
func RequireBearer(svc *auth.Service, requireDBCheck bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			raw := bearerToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
			}
			user, err := svc.ValidateJWTSession(ctx, raw, requireDBCheck)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
			}
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(identityKey, Identity{Source: SourceToken, User: user, AccessToken: raw})
			return next(c)
		}
	}
}

// RequireAuthenticated gates handlers that need a resolved identity.
func RequireAuthenticated(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !FromContext(c).Authenticated() {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}

func RequireRole(required ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := FromContext(c)
			if !id.Authenticated() {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			if !slices.Contains(required, id.User.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "you don't have enough rights to see this page")
			}
			return next(c)
		}
	}
}
