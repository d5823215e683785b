package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theatre-auth/internal/model"
)

// SocialAccountRepo links users to OAuth provider subjects.
type SocialAccountRepo struct{ DB *sql.DB }

func NewSocialAccountRepo(db *sql.DB) *SocialAccountRepo { return &SocialAccountRepo{DB: db} }

// Create links an account.  A provider subject already linked to any user
// gives ErrDuplicate.
func (r *SocialAccountRepo) Create(ctx context.Context, a *model.SocialAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := run(ctx, func(ctx context.Context) error {
		_, err := r.DB.ExecContext(ctx,
			"INSERT INTO social_accounts (id, user_id, provider, provider_user_id, created_at) VALUES (?,?,?,?,?)",
			a.ID, a.UserID, a.Provider, a.ProviderUserID, a.CreatedAt)
		return err
	})
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetByProvider finds the account linked to a provider subject.
func (r *SocialAccountRepo) GetByProvider(ctx context.Context, provider, providerUserID string) (*model.SocialAccount, error) {
	var a model.SocialAccount
	err := run(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT id, user_id, provider, provider_user_id, created_at FROM social_accounts WHERE provider=? AND provider_user_id=? LIMIT 1",
			provider, providerUserID).Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderUserID, &a.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteByProvider unlinks one provider from a user.
func (r *SocialAccountRepo) DeleteByProvider(ctx context.Context, userID, provider string) error {
	return r.delete(ctx, "DELETE FROM social_accounts WHERE user_id=? AND provider=?", userID, provider)
}

// DeleteAll unlinks every provider from a user.
func (r *SocialAccountRepo) DeleteAll(ctx context.Context, userID string) error {
	return r.delete(ctx, "DELETE FROM social_accounts WHERE user_id=?", userID)
}

func (r *SocialAccountRepo) delete(ctx context.Context, query string, args ...any) error {
	var n int64
	err := run(ctx, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
