package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theatre-auth/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,login,email,password_hash,first_name,last_name,is_active,created_at"

// Create inserts u together with its roles (looked up by name).  ID and
// CreatedAt are filled when empty.  An existing login or email gives
// ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := run(ctx, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?)",
			u.ID, u.Login, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsActive, u.CreatedAt)
		if err != nil {
			return err
		}
		for _, name := range u.Roles {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO user_roles (user_id, role_id) SELECT ?, id FROM roles WHERE name=?",
				u.ID, name); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID fetches a user by id with roles and social accounts.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, "id=?", id)
}

// GetByLogin fetches a user by login.
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.getOne(ctx, "login=?", strings.TrimSpace(login))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "email=?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := run(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg).
			Scan(&u.ID, &u.Login, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	users := []*model.User{&u}
	if err := r.fill(ctx, users); err != nil {
		return nil, err
	}
	return &u, nil
}

// ExistsByLoginOrEmail reports whether either value is already taken.
func (r *UserRepo) ExistsByLoginOrEmail(ctx context.Context, login, email string) (bool, error) {
	var n int
	err := run(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM users WHERE login=? OR email=?",
			strings.TrimSpace(login), strings.ToLower(strings.TrimSpace(email))).Scan(&n)
	})
	return n > 0, err
}

// Activate marks a user active.  Activating an active user is a no-op.
func (r *UserRepo) Activate(ctx context.Context, id string) error {
	return r.update(ctx, id, "UPDATE users SET is_active=1 WHERE id=?", id)
}

// SetPassword replaces the password hash of a user.
func (r *UserRepo) SetPassword(ctx context.Context, id, hash string) error {
	return r.update(ctx, id, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
}

func (r *UserRepo) update(ctx context.Context, id, query string, args ...any) error {
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
		// MySQL reports 0 rows for an unchanged value, so tell that apart
		// from a missing user.
		if _, err := r.getOne(ctx, "id=?", id); err != nil {
			return err
		}
	}
	return nil
}

// List returns one page of users ordered by creation time.
func (r *UserRepo) List(ctx context.Context, p Page) ([]*model.User, error) {
	p = p.Normalize()
	return r.query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at "+p.order()+", id "+p.order()+" LIMIT ? OFFSET ?",
		p.Limit, p.Offset)
}

// ListByIDs returns the users among ids that exist, in creation order.
func (r *UserRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.query(ctx,
		"SELECT "+userColumns+" FROM users WHERE id IN ("+placeholders(len(ids))+") ORDER BY created_at, id",
		args...)
}

func (r *UserRepo) query(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	var users []*model.User
	err := run(ctx, func(ctx context.Context) error {
		users = users[:0]
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u model.User
			if err := rows.Scan(&u.ID, &u.Login, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt); err != nil {
				return err
			}
			users = append(users, &u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, r.fill(ctx, users)
}

// fill loads role names and social accounts for users in two queries.
func (r *UserRepo) fill(ctx context.Context, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[string]*model.User, len(users))
	args := make([]any, 0, len(users))
	for _, u := range users {
		u.Roles = []string{}
		u.SocialAccounts = []model.SocialAccount{}
		byID[u.ID] = u
		args = append(args, u.ID)
	}
	in := placeholders(len(args))

	err := run(ctx, func(ctx context.Context) error {
		for _, u := range users {
			u.Roles = u.Roles[:0]
		}
		rows, err := r.DB.QueryContext(ctx,
			"SELECT ur.user_id, r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id IN ("+in+") ORDER BY r.name",
			args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var uid, name string
			if err := rows.Scan(&uid, &name); err != nil {
				return err
			}
			if u := byID[uid]; u != nil {
				u.Roles = append(u.Roles, name)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	err = run(ctx, func(ctx context.Context) error {
		for _, u := range users {
			u.SocialAccounts = u.SocialAccounts[:0]
		}
		rows, err := r.DB.QueryContext(ctx,
			"SELECT id, user_id, provider, provider_user_id, created_at FROM social_accounts WHERE user_id IN ("+in+") ORDER BY created_at, id",
			args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a model.SocialAccount
			if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderUserID, &a.CreatedAt); err != nil {
				return err
			}
			if u := byID[a.UserID]; u != nil {
				u.SocialAccounts = append(u.SocialAccounts, a)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("load social accounts: %w", err)
	}
	return nil
}
