package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrUserExists = errors.New("user already exists")
)

// GormRepo is the credential store: users, opaque sessions and the
// revocation ledger all live behind it.
type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}

// WithTransaction runs fn inside one transaction. Commit on nil, rollback on
// any error fn returns. Multi-row writes (order creation, token rotation)
// must go through here rather than open-coding Begin/Commit.
func (r *GormRepo) WithTransaction(ctx context.Context, fn func(tx *GormRepo) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepo{DB: tx})
	})
}
