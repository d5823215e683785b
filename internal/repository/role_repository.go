package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/theatre-auth/internal/model"
)

// RoleRepo persists roles and the user_roles join table.
type RoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{DB: db} }

// Create inserts a role.  The slug is derived from the name; a taken name
// or slug gives ErrDuplicate.
func (r *RoleRepo) Create(ctx context.Context, name string) (*model.Role, error) {
	role := &model.Role{Name: name, Slug: model.Slugify(name), CreatedAt: time.Now().UTC(), Users: []model.RoleMember{}}
	err := run(ctx, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx,
			"INSERT INTO roles (name, slug, created_at) VALUES (?,?,?)",
			role.Name, role.Slug, role.CreatedAt)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		role.ID = uint64(id)
		return err
	})
	if isDuplicate(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// GetByID fetches a role with the users holding it.
func (r *RoleRepo) GetByID(ctx context.Context, id uint64) (*model.Role, error) {
	role, err := r.getOne(ctx, "id=?", id)
	if err != nil {
		return nil, err
	}
	err = run(ctx, func(ctx context.Context) error {
		role.Users = role.Users[:0]
		rows, err := r.DB.QueryContext(ctx,
			"SELECT u.id, u.login FROM user_roles ur JOIN users u ON u.id = ur.user_id WHERE ur.role_id=? ORDER BY u.login",
			id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m model.RoleMember
			if err := rows.Scan(&m.ID, &m.Login); err != nil {
				return err
			}
			role.Users = append(role.Users, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// GetByName fetches a role by its exact name, without members.
func (r *RoleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	return r.getOne(ctx, "name=?", name)
}

func (r *RoleRepo) getOne(ctx context.Context, where string, arg any) (*model.Role, error) {
	role := model.Role{Users: []model.RoleMember{}}
	err := run(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT id, name, slug, created_at FROM roles WHERE "+where+" LIMIT 1", arg).
			Scan(&role.ID, &role.Name, &role.Slug, &role.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// List returns one page of roles ordered by creation time, without members.
func (r *RoleRepo) List(ctx context.Context, p Page) ([]*model.Role, error) {
	p = p.Normalize()
	roles := []*model.Role{}
	err := run(ctx, func(ctx context.Context) error {
		roles = roles[:0]
		rows, err := r.DB.QueryContext(ctx,
			"SELECT id, name, slug, created_at FROM roles ORDER BY created_at "+p.order()+", id "+p.order()+" LIMIT ? OFFSET ?",
			p.Limit, p.Offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			role := model.Role{Users: []model.RoleMember{}}
			if err := rows.Scan(&role.ID, &role.Name, &role.Slug, &role.CreatedAt); err != nil {
				return err
			}
			roles = append(roles, &role)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// Rename changes name and slug of a role.
func (r *RoleRepo) Rename(ctx context.Context, id uint64, name string) (*model.Role, error) {
	err := run(ctx, func(ctx context.Context) error {
		_, err := r.DB.ExecContext(ctx,
			"UPDATE roles SET name=?, slug=? WHERE id=?", name, model.Slugify(name), id)
		return err
	})
	if isDuplicate(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	// a missing id surfaces here as ErrNotFound
	return r.GetByID(ctx, id)
}

// Delete removes a role and its grants.
func (r *RoleRepo) Delete(ctx context.Context, id uint64) error {
	var n int64
	err := run(ctx, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE role_id=?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id=?", id)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Grant gives a role to a user.  Unknown user or role gives ErrNotFound,
// an existing grant ErrDuplicate.
func (r *RoleRepo) Grant(ctx context.Context, userID string, roleID uint64) (*model.UserRole, error) {
	if err := r.exists(ctx, userID, roleID); err != nil {
		return nil, err
	}
	ur := &model.UserRole{UserID: userID, RoleID: roleID}
	err := run(ctx, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id) VALUES (?,?)", userID, roleID)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		ur.ID = uint64(id)
		return err
	})
	if isDuplicate(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return ur, nil
}

// Revoke takes a role away.  ErrNotFound when the user did not hold it.
func (r *RoleRepo) Revoke(ctx context.Context, userID string, roleID uint64) error {
	var n int64
	err := run(ctx, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx,
			"DELETE FROM user_roles WHERE user_id=? AND role_id=?", userID, roleID)
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

func (r *RoleRepo) exists(ctx context.Context, userID string, roleID uint64) error {
	var users, roles int
	err := run(ctx, func(ctx context.Context) error {
		return r.DB.QueryRowContext(ctx,
			"SELECT (SELECT COUNT(*) FROM users WHERE id=?), (SELECT COUNT(*) FROM roles WHERE id=?)",
			userID, roleID).Scan(&users, &roles)
	})
	if err != nil {
		return err
	}
	if users == 0 || roles == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureRoles creates the named roles that do not exist yet.
func (r *RoleRepo) EnsureRoles(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := r.Create(ctx, name); err != nil && !errors.Is(err, ErrDuplicate) {
			return err
		}
	}
	return nil
}
