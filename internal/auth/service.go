package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/avdonin/webmarket/internal/hash"
	"github.com/avdonin/webmarket/internal/logging"
	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/repo"
	"github.com/avdonin/webmarket/internal/session"
	"github.com/avdonin/webmarket/internal/token"
)

// bcrypt hash of a throwaway string. Login attempts against unknown usernames
// are compared against it so their latency matches the real-user path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// UserInfo is the sanitized projection returned to collaborators. It never
// carries the password hash.
type UserInfo struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func Sanitize(u *models.User) UserInfo {
	return UserInfo{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionLogin struct {
	User      UserInfo
	SessionID string
}

type JWTLogin struct {
	User         UserInfo
	AccessToken  string
	RefreshToken string
}

// Service orchestrates registration, both login modes, logout and refresh.
// It is the only entry point external collaborators use.
type Service struct {
	Repo     *repo.GormRepo
	Sessions *session.Manager
}

func NewService(r *repo.GormRepo, m *session.Manager) *Service {
	return &Service{Repo: r, Sessions: m}
}

func validateRegister(req RegisterRequest) error {
	if n := len(req.Username); n < 3 || n > 50 {
		return fmt.Errorf("%w: username must be 3-50 characters", ErrValidation)
	}
	if n := len(req.Password); n < 6 || n > 100 {
		return fmt.Errorf("%w: password must be 6-100 characters", ErrValidation)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return nil
}

// Register creates a user. It does not log the new user in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*UserInfo, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if err := validateRegister(req); err != nil {
		l.Warn("register_failed", "reason", "validation", "error", err)
		return nil, err
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		l.Error("register_failed", "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: pwHash,
		Role:         "user",
		CreatedAt:    time.Now(),
	}
	if err := s.Repo.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserExists) {
			l.Warn("register_failed", "reason", "user_exists", "username", req.Username)
			return nil, ErrUserExists
		}
		l.Error("register_failed", "reason", "db_error", "error", err)
		return nil, err
	}

	l.Info("register_success", "user_id", user.ID)
	info := Sanitize(&user)
	return &info, nil
}

// authenticate merges "no such user" and "wrong password" into one error and
// keeps their cost comparable.
func (s *Service) authenticate(ctx context.Context, req LoginRequest) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.Repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			hash.CheckPassword(dummyHash, req.Password)
			l.Warn("login_failed", "reason", "unknown_username")
			return nil, ErrInvalidCredentials
		}
		l.Error("login_failed", "reason", "db_error", "error", err)
		return nil, err
	}

	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login_failed", "reason", "wrong_password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) LoginWithSession(ctx context.Context, req LoginRequest) (*SessionLogin, error) {
	user, err := s.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := s.Sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("login_success", "mode", "session", "user_id", user.ID)
	return &SessionLogin{User: Sanitize(user), SessionID: id}, nil
}

func (s *Service) LoginWithJWT(ctx context.Context, req LoginRequest) (*JWTLogin, error) {
	user, err := s.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	pair, err := s.Sessions.CreateJWTSession(user)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("login_success", "mode", "jwt", "user_id", user.ID)
	return &JWTLogin{
		User:         Sanitize(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Logout destroys an opaque session, calling it twice is not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.Sessions.DestroySession(ctx, sessionID)
}

// LogoutJWT revokes the access token's jti, idempotent like Logout.
func (s *Service) LogoutJWT(ctx context.Context, accessToken string) error {
	return s.Sessions.DestroyJWTSession(ctx, accessToken)
}

func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*models.User, error) {
	return s.Sessions.ValidateSession(ctx, sessionID)
}

func (s *Service) ValidateJWTSession(ctx context.Context, raw string, requireDBCheck bool) (*models.User, error) {
	return s.Sessions.ValidateJWTSession(ctx, raw, requireDBCheck)
}

// RefreshTokens converts the session manager's nil result into ErrInvalidToken
// at this boundary, internal components stay sentinel-based.
func (s *Service) RefreshTokens(ctx context.Context, rawRefresh string) (*token.Pair, error) {
	pair, err := s.Sessions.RefreshTokens(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		logging.FromContext(ctx).Warn("refresh_failed", "reason", "invalid_or_revoked")
		return nil, ErrInvalidToken
	}
	logging.FromContext(ctx).Info("refresh_success")
	return pair, nil
}
