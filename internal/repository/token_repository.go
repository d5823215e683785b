package repository

import (
	"context"
	"database/sql"
	"time"
)

// TokenRepo is the append-only ledger of refresh tokens that have been
// spent.  token_hash carries a unique key, so a hash can be appended once.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Append records tokenHash as used.  A second append of the same hash,
// however concurrent, fails with ErrDuplicate: this insert is the one
// check that makes a refresh token single-use.
func (r *TokenRepo) Append(ctx context.Context, userID, tokenHash string) error {
	err := run(ctx, func(ctx context.Context) error {
		_, err := r.DB.ExecContext(ctx,
			"INSERT INTO used_refresh_tokens (user_id, token_hash, created_at) VALUES (?,?,?)",
			userID, tokenHash, time.Now().UTC())
		return err
	})
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// Contains reports whether tokenHash has already been used.
func (r *TokenRepo) Contains(ctx context.Context, tokenHash string) (bool, error) {
	var n int
	err := run(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM used_refresh_tokens WHERE token_hash=?", tokenHash).Scan(&n)
	})
	return n > 0, err
}
