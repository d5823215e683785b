// Package memstore keeps every store of the service in process memory.
// It mirrors the MySQL repositories, including the unique used-token
// ledger and the compare-and-swap session rotation, and is selected with
// STORAGE_DRIVER=memory or used directly in tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository"
)

// Store holds all tables behind one lock.  The typed views returned by
// Users, Roles, Sessions, Tokens and Social share it.
type Store struct {
	mu        sync.Mutex
	users     map[string]*model.User
	roles     map[uint64]*model.Role
	nextRole  uint64
	grants    map[string]map[uint64]uint64 // user id -> role id -> grant id
	nextGrant uint64
	sessions  map[string]*model.Session
	used      map[string]string // token hash -> user id
	social    map[string]*model.SocialAccount
}

func New() *Store {
	return &Store{
		users:    map[string]*model.User{},
		roles:    map[uint64]*model.Role{},
		grants:   map[string]map[uint64]uint64{},
		sessions: map[string]*model.Session{},
		used:     map[string]string{},
		social:   map[string]*model.SocialAccount{},
	}
}

func (s *Store) Users() *Users       { return &Users{s} }
func (s *Store) Roles() *Roles       { return &Roles{s} }
func (s *Store) Sessions() *Sessions { return &Sessions{s} }
func (s *Store) Tokens() *Tokens     { return &Tokens{s} }
func (s *Store) Social() *Social     { return &Social{s} }

func paginate[T any](items []T, p repository.Page) []T {
	p = p.Normalize()
	if p.Desc {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-p.Offset)
	copy(out, items[p.Offset:end])
	return out
}

// ---------- users ----------

type Users struct{ s *Store }

func (r *Users) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, o := range r.s.users {
		if o.Login == u.Login || o.Email == u.Email || o.ID == u.ID {
			return repository.ErrDuplicate
		}
	}
	cp := *u
	cp.Roles, cp.SocialAccounts = nil, nil
	r.s.users[u.ID] = &cp
	for _, name := range u.Roles {
		for _, role := range r.s.roles {
			if role.Name == name {
				r.s.grantLocked(u.ID, role.ID)
			}
		}
	}
	return nil
}

func (r *Users) GetByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id })
}

func (r *Users) GetByLogin(_ context.Context, login string) (*model.User, error) {
	login = strings.TrimSpace(login)
	return r.find(func(u *model.User) bool { return u.Login == login })
}

func (r *Users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.find(func(u *model.User) bool { return u.Email == email })
}

func (r *Users) find(match func(*model.User) bool) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if match(u) {
			return r.s.userLocked(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Users) ExistsByLoginOrEmail(_ context.Context, login, email string) (bool, error) {
	login = strings.TrimSpace(login)
	email = strings.ToLower(strings.TrimSpace(email))
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Login == login || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *Users) Activate(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = true
	return nil
}

func (r *Users) SetPassword(_ context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *Users) List(_ context.Context, p repository.Page) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return paginate(r.s.sortedUsersLocked(nil), p), nil
}

func (r *Users) ListByIDs(_ context.Context, ids []string) ([]*model.User, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedUsersLocked(want), nil
}

func (s *Store) sortedUsersLocked(only map[string]bool) []*model.User {
	out := []*model.User{}
	for _, u := range s.users {
		if only == nil || only[u.ID] {
			out = append(out, s.userLocked(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// userLocked returns a copy of u with roles and social accounts attached.
func (s *Store) userLocked(u *model.User) *model.User {
	cp := *u
	cp.Roles = []string{}
	for roleID := range s.grants[u.ID] {
		if role, ok := s.roles[roleID]; ok {
			cp.Roles = append(cp.Roles, role.Name)
		}
	}
	sort.Strings(cp.Roles)
	cp.SocialAccounts = []model.SocialAccount{}
	for _, a := range s.social {
		if a.UserID == u.ID {
			cp.SocialAccounts = append(cp.SocialAccounts, *a)
		}
	}
	sort.Slice(cp.SocialAccounts, func(i, j int) bool {
		return cp.SocialAccounts[i].CreatedAt.Before(cp.SocialAccounts[j].CreatedAt)
	})
	return &cp
}

// ---------- roles ----------

type Roles struct{ s *Store }

func (r *Roles) Create(_ context.Context, name string) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	slug := model.Slugify(name)
	for _, o := range r.s.roles {
		if o.Name == name || o.Slug == slug {
			return nil, repository.ErrDuplicate
		}
	}
	r.s.nextRole++
	role := &model.Role{ID: r.s.nextRole, Name: name, Slug: slug, CreatedAt: time.Now().UTC()}
	r.s.roles[role.ID] = role
	return r.s.roleLocked(role, false), nil
}

func (r *Roles) GetByID(_ context.Context, id uint64) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.roleLocked(role, true), nil
}

func (r *Roles) GetByName(_ context.Context, name string) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.roles {
		if role.Name == name {
			return r.s.roleLocked(role, false), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Roles) List(_ context.Context, p repository.Page) ([]*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		out = append(out, r.s.roleLocked(role, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, p), nil
}

func (r *Roles) Rename(_ context.Context, id uint64, name string) (*model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	slug := model.Slugify(name)
	for _, o := range r.s.roles {
		if o.ID != id && (o.Name == name || o.Slug == slug) {
			return nil, repository.ErrDuplicate
		}
	}
	role.Name, role.Slug = name, slug
	return r.s.roleLocked(role, true), nil
}

func (r *Roles) Delete(_ context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.roles, id)
	for _, g := range r.s.grants {
		delete(g, id)
	}
	return nil
}

func (r *Roles) Grant(_ context.Context, userID string, roleID uint64) (*model.UserRole, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return nil, repository.ErrNotFound
	}
	if _, ok := r.s.roles[roleID]; !ok {
		return nil, repository.ErrNotFound
	}
	if _, ok := r.s.grants[userID][roleID]; ok {
		return nil, repository.ErrDuplicate
	}
	id := r.s.grantLocked(userID, roleID)
	return &model.UserRole{ID: id, UserID: userID, RoleID: roleID}, nil
}

func (r *Roles) Revoke(_ context.Context, userID string, roleID uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.grants[userID][roleID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.grants[userID], roleID)
	return nil
}

func (r *Roles) EnsureRoles(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := r.Create(ctx, name); err != nil && err != repository.ErrDuplicate {
			return err
		}
	}
	return nil
}

func (s *Store) grantLocked(userID string, roleID uint64) uint64 {
	if s.grants[userID] == nil {
		s.grants[userID] = map[uint64]uint64{}
	}
	s.nextGrant++
	s.grants[userID][roleID] = s.nextGrant
	return s.nextGrant
}

func (s *Store) roleLocked(role *model.Role, members bool) *model.Role {
	cp := *role
	cp.Users = []model.RoleMember{}
	if members {
		for uid, g := range s.grants {
			if _, ok := g[role.ID]; ok {
				if u, ok := s.users[uid]; ok {
					cp.Users = append(cp.Users, model.RoleMember{ID: u.ID, Login: u.Login})
				}
			}
		}
		sort.Slice(cp.Users, func(i, j int) bool { return cp.Users[i].Login < cp.Users[j].Login })
	}
	return &cp
}

// ---------- sessions ----------

type Sessions struct{ s *Store }

func (r *Sessions) Start(_ context.Context, sess *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if _, ok := r.s.sessions[sess.ID]; ok {
		return repository.ErrDuplicate
	}
	sess.EndedAt = nil
	sess.EndReason = model.EndLogin
	cp := *sess
	r.s.sessions[sess.ID] = &cp
	return nil
}

func (r *Sessions) Get(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *Sessions) Rotate(_ context.Context, id, oldHash, newHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || !sess.Open() || sess.RefreshHash != oldHash {
		return repository.ErrStale
	}
	sess.RefreshHash = newHash
	return nil
}

func (r *Sessions) End(_ context.Context, id string, reason model.EndReason, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if sess.Open() {
		t := at.UTC()
		sess.EndedAt = &t
		sess.EndReason = reason
	}
	return nil
}

func (r *Sessions) ListByUser(_ context.Context, userID string, p repository.Page) ([]*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Session{}
	for _, sess := range r.s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return paginate(out, p), nil
}

// ---------- used-token ledger ----------

type Tokens struct{ s *Store }

func (r *Tokens) Append(_ context.Context, userID, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.used[tokenHash]; ok {
		return repository.ErrDuplicate
	}
	r.s.used[tokenHash] = userID
	return nil
}

func (r *Tokens) Contains(_ context.Context, tokenHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.used[tokenHash]
	return ok, nil
}

// ---------- social accounts ----------

type Social struct{ s *Store }

func (r *Social) Create(_ context.Context, a *model.SocialAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.social {
		if o.Provider == a.Provider && o.ProviderUserID == a.ProviderUserID {
			return repository.ErrDuplicate
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	r.s.social[a.ID] = &cp
	return nil
}

func (r *Social) GetByProvider(_ context.Context, provider, providerUserID string) (*model.SocialAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.social {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Social) DeleteByProvider(_ context.Context, userID, provider string) error {
	return r.delete(func(a *model.SocialAccount) bool { return a.UserID == userID && a.Provider == provider })
}

func (r *Social) DeleteAll(_ context.Context, userID string) error {
	return r.delete(func(a *model.SocialAccount) bool { return a.UserID == userID })
}

func (r *Social) delete(match func(*model.SocialAccount) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, a := range r.s.social {
		if match(a) {
			delete(r.s.social, id)
			n++
		}
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
