package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theatre-auth/internal/model"
)

// SessionRepo persists login sessions.  A session is open while ended_at
// is NULL; its refresh_hash names the only refresh token that may rotate
// it.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id,user_id,started_at,ended_at,end_reason,refresh_hash,ip_address,user_agent"

// Start inserts an open session.  ID and StartedAt are filled when empty.
func (r *SessionRepo) Start(ctx context.Context, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	s.EndedAt = nil
	s.EndReason = model.EndLogin
	err := run(ctx, func(ctx context.Context) error {
		_, err := r.DB.ExecContext(ctx,
			"INSERT INTO sessions ("+sessionColumns+") VALUES (?,?,?,?,?,?,?,?)",
			s.ID, s.UserID, s.StartedAt, nil, string(s.EndReason), s.RefreshHash, s.IPAddress, s.UserAgent)
		return err
	})
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// Get fetches a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	var s *model.Session
	err := run(ctx, func(ctx context.Context) error {
		var err error
		s, err = scanSession(r.DB.QueryRowContext(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE id=? LIMIT 1", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Rotate replaces the refresh hash of an open session, but only while it
// still holds oldHash.  Concurrent rotations of the same token therefore
// have a single winner; the others get ErrStale.
func (r *SessionRepo) Rotate(ctx context.Context, id, oldHash, newHash string) error {
	var n int64
	err := run(ctx, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx,
			"UPDATE sessions SET refresh_hash=? WHERE id=? AND refresh_hash=? AND ended_at IS NULL",
			newHash, id, oldHash)
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
		return ErrStale
	}
	return nil
}

// End closes an open session with reason.  Ending a closed session keeps
// its first reason and is not an error; an unknown id is ErrNotFound.
func (r *SessionRepo) End(ctx context.Context, id string, reason model.EndReason, at time.Time) error {
	var n int64
	err := run(ctx, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx,
			"UPDATE sessions SET ended_at=?, end_reason=? WHERE id=? AND ended_at IS NULL",
			at.UTC(), string(reason), id)
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
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ListByUser returns one page of a user's sessions ordered by start time.
func (r *SessionRepo) ListByUser(ctx context.Context, userID string, p Page) ([]*model.Session, error) {
	p = p.Normalize()
	out := []*model.Session{}
	err := run(ctx, func(ctx context.Context) error {
		out = out[:0]
		rows, err := r.DB.QueryContext(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE user_id=? ORDER BY started_at "+p.order()+", id "+p.order()+" LIMIT ? OFFSET ?",
			userID, p.Limit, p.Offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s      model.Session
		ended  sql.NullTime
		reason string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &ended, &reason, &s.RefreshHash, &s.IPAddress, &s.UserAgent); err != nil {
		return nil, err
	}
	s.EndReason = model.EndReason(reason)
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}
