package repository

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/iliyamo/theatre-auth/internal/model"
)

// sqliteSchema mirrors database/schema.sql with SQLite types.
const sqliteSchema = `
CREATE TABLE users (
    id TEXT PRIMARY KEY,
    login TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL DEFAULT '',
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);
CREATE TABLE roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    slug TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL
);
CREATE TABLE user_roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    role_id INTEGER NOT NULL,
    UNIQUE (user_id, role_id)
);
CREATE TABLE sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    ended_at DATETIME NULL,
    end_reason TEXT NOT NULL DEFAULT 'login',
    refresh_hash TEXT NOT NULL,
    ip_address TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT ''
);
CREATE TABLE used_refresh_tokens (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    token_hash TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL
);
CREATE TABLE social_accounts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_user_id TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (provider, provider_user_id)
);
`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // one connection keeps the in-memory database alive
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}

func seedUser(t *testing.T, users *UserRepo, login string, at time.Time, roles ...string) *model.User {
	t.Helper()
	u := &model.User{Login: login, Email: login + "@example.com", PasswordHash: "h", CreatedAt: at, Roles: roles}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestUserRepo_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	roles := NewRoleRepo(db)
	users := NewUserRepo(db)
	require.NoError(t, roles.EnsureRoles(ctx, model.DefaultRoles()...))
	require.NoError(t, roles.EnsureRoles(ctx, model.DefaultRoles()...)) // idempotent

	u := seedUser(t, users, "alice", time.Now().UTC(), model.RoleUser, model.RoleAdmin)
	assert.NotEmpty(t, u.ID)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Login)
	assert.Equal(t, []string{"admin", "user"}, got.Roles)
	assert.NotNil(t, got.SocialAccounts)
	assert.False(t, got.IsActive)

	got, err = users.GetByEmail(ctx, "  ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.GetByLogin(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	err = users.Create(ctx, &model.User{Login: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	taken, err := users.ExistsByLoginOrEmail(ctx, "nobody", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestUserRepo_ActivateAndPassword(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := NewUserRepo(db)
	u := seedUser(t, users, "carol", time.Now().UTC())

	require.NoError(t, users.Activate(ctx, u.ID))
	require.NoError(t, users.Activate(ctx, u.ID))
	require.NoError(t, users.SetPassword(ctx, u.ID, "new-hash"))
	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "new-hash", got.PasswordHash)

	assert.ErrorIs(t, users.Activate(ctx, "missing"), ErrNotFound)
}

func TestUserRepo_ListPaging(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	users := NewUserRepo(db)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, login := range []string{"u1", "u2", "u3"} {
		ids = append(ids, seedUser(t, users, login, base.Add(time.Duration(i)*time.Hour)).ID)
	}

	page, err := users.List(ctx, Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "u1", page[0].Login)

	page, err = users.List(ctx, Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u3", page[0].Login)

	page, err = users.List(ctx, Page{Limit: 1, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, "u3", page[0].Login)

	bulk, err := users.ListByIDs(ctx, []string{ids[2], "missing", ids[0]})
	require.NoError(t, err)
	require.Len(t, bulk, 2)
	assert.Equal(t, "u1", bulk[0].Login)

	empty, err := users.ListByIDs(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestRoleRepo_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	roles := NewRoleRepo(db)
	users := NewUserRepo(db)
	u := seedUser(t, users, "dave", time.Now().UTC())

	r, err := roles.Create(ctx, "Content Editor")
	require.NoError(t, err)
	assert.Equal(t, "content-editor", r.Slug)

	_, err = roles.Create(ctx, "Content Editor")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = roles.Grant(ctx, u.ID, r.ID)
	require.NoError(t, err)
	_, err = roles.Grant(ctx, u.ID, r.ID)
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = roles.Grant(ctx, "missing", r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := roles.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Users, 1)
	assert.Equal(t, "dave", got.Users[0].Login)

	renamed, err := roles.Rename(ctx, r.ID, "Reviewer")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", renamed.Slug)
	_, err = roles.Rename(ctx, 999, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, roles.Revoke(ctx, u.ID, r.ID))
	assert.ErrorIs(t, roles.Revoke(ctx, u.ID, r.ID), ErrNotFound)

	require.NoError(t, roles.Delete(ctx, r.ID))
	assert.ErrorIs(t, roles.Delete(ctx, r.ID), ErrNotFound)
}

func TestSessionRepo_RotateAndEnd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionRepo(db)

	s := &model.Session{UserID: "u", RefreshHash: "h1", IPAddress: "1.2.3.4"}
	require.NoError(t, sessions.Start(ctx, s))

	assert.ErrorIs(t, sessions.Rotate(ctx, s.ID, "wrong", "h2"), ErrStale)
	require.NoError(t, sessions.Rotate(ctx, s.ID, "h1", "h2"))
	assert.ErrorIs(t, sessions.Rotate(ctx, s.ID, "h1", "h3"), ErrStale)

	require.NoError(t, sessions.End(ctx, s.ID, model.EndLogout, time.Now()))
	require.NoError(t, sessions.End(ctx, s.ID, model.EndInvalidRefresh, time.Now()))
	got, err := sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.Equal(t, model.EndLogout, got.EndReason)

	assert.ErrorIs(t, sessions.Rotate(ctx, s.ID, "h2", "h3"), ErrStale)
	assert.ErrorIs(t, sessions.End(ctx, "missing", model.EndLogout, time.Now()), ErrNotFound)
}

func TestSessionRepo_ListByUser(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionRepo(db)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, sessions.Start(ctx, &model.Session{UserID: "u", RefreshHash: "h", StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, sessions.Start(ctx, &model.Session{UserID: "other", RefreshHash: "h"}))

	list, err := sessions.ListByUser(ctx, "u", Page{Desc: true})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].StartedAt.After(list[2].StartedAt))
	assert.Equal(t, model.EndLogin, list[0].EndReason)
}

func TestTokenRepo_SingleUse(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tokens := NewTokenRepo(db)

	require.NoError(t, tokens.Append(ctx, "u", "hash-1"))
	assert.ErrorIs(t, tokens.Append(ctx, "u", "hash-1"), ErrDuplicate)

	ok, err := tokens.Contains(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tokens.Contains(ctx, "hash-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenRepo_ConcurrentAppendHasOneWinner(t *testing.T) {
	db := openTestDB(t)
	tokens := NewTokenRepo(db)

	var wins, dups int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := tokens.Append(context.Background(), "u", "same"); err {
			case nil:
				atomic.AddInt32(&wins, 1)
			case ErrDuplicate:
				atomic.AddInt32(&dups, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, 19, dups)
}

func TestSocialAccountRepo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	social := NewSocialAccountRepo(db)

	a := &model.SocialAccount{UserID: "u", Provider: "google", ProviderUserID: "g-1"}
	require.NoError(t, social.Create(ctx, a))
	assert.ErrorIs(t, social.Create(ctx, &model.SocialAccount{UserID: "v", Provider: "google", ProviderUserID: "g-1"}), ErrDuplicate)

	got, err := social.GetByProvider(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, "u", got.UserID)

	require.NoError(t, social.DeleteByProvider(ctx, "u", "google"))
	assert.ErrorIs(t, social.DeleteByProvider(ctx, "u", "google"), ErrNotFound)
	assert.ErrorIs(t, social.DeleteAll(ctx, "u"), ErrNotFound)
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: MaxLimit, Offset: 0}, Page{Limit: 1000, Offset: -3}.Normalize())
	assert.Equal(t, "?,?,?", placeholders(3))
}
