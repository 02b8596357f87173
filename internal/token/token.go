package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/repo"
)

const (
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

var errUnexpectedSignMethod = errors.New("unexpected sign method")

// VerifyMode selects between a pure signature+expiry check and one that also
// consults the revocation ledger. Low-trust call paths take Stateless to skip
// the store round-trip, logout and refresh pay for certainty.
type VerifyMode int

const (
	Stateless VerifyMode = iota
	RevocationChecked
)

type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	repo          *repo.GormRepo
}

// NewService refuses empty secrets. There is no default secret.
func NewService(accessSecret, refreshSecret []byte, r *repo.GormRepo) (*Service, error) {
	if len(accessSecret) == 0 {
		return nil, errors.New("access secret is empty")
	}
	if len(refreshSecret) == 0 {
		return nil, errors.New("refresh secret is empty")
	}
	return &Service{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		repo:          r,
	}, nil
}

// Generate mints an access/refresh pair sharing one fresh jti. No store write.
func (s *Service) Generate(user *models.User) (*Pair, error) {
	now := time.Now()
	jti := uuid.NewString()

	accessClaims := AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTTL)),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.accessSecret)
	if err != nil {
		return nil, err
	}

	refreshClaims := RefreshClaims{
		UserID: user.ID,
		Typ:    "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTTL)),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.refreshSecret)
	if err != nil {
		return nil, err
	}

	return &Pair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Verify checks an access token. Any expected failure (bad signature,
// malformed, expired, revoked) yields (nil, nil), the caller gets no detail.
// A non-nil error means the store itself failed.
func (s *Service) Verify(ctx context.Context, raw string, mode VerifyMode) (*AccessClaims, error) {
	claims, err := accessClaimsFromToken(raw, s.accessSecret)
	if err != nil || claims == nil {
		return nil, nil
	}

	if mode == RevocationChecked && claims.ID != "" {
		revoked, err := s.repo.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, nil
		}
	}

	return claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token and that its
// jti is not in the ledger. Same (nil, nil) contract as Verify.
func (s *Service) VerifyRefresh(ctx context.Context, raw string) (*RefreshClaims, error) {
	claims, err := refreshClaimsFromToken(raw, s.refreshSecret)
	if err != nil || claims == nil {
		return nil, nil
	}
	if claims.Typ != "refresh" {
		return nil, nil
	}

	if claims.ID != "" {
		revoked, err := s.repo.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, nil
		}
	}

	return claims, nil
}

// Revoke writes the jti into the ledger. The row expires together with the
// access token so the sweep collects it, idempotent on repeat.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.repo.RevokeToken(ctx, jti, expiresAt)
}
