package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/theatre-auth/internal/cache"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/oauth"
	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/repository/memstore"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

const testSecret = "test-secret"

type recordMailer struct {
	mu   sync.Mutex
	sent []queue.EmailMessage
}

func (m *recordMailer) Send(_ context.Context, msg queue.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordEvents struct {
	mu     sync.Mutex
	events []queue.UserRegisteredEvent
}

func (e *recordEvents) UserRegistered(_ context.Context, ev queue.UserRegisteredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

type fakeProvider struct {
	profile oauth.Profile
	err     error
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (p *fakeProvider) Exchange(context.Context, string) (oauth.Profile, error) {
	return p.profile, p.err
}

type fixture struct {
	store    *memstore.Store
	mr       *miniredis.Miniredis
	cache    *cache.Store
	identity *IdentityResolver
	codec    *utils.Codec
	signer   *utils.Signer
	mailer   *recordMailer
	events   *recordEvents
	auth     *AuthService
	log      *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memstore.New()
	require.NoError(t, st.Roles().EnsureRoles(context.Background(), model.DefaultRoles()...))

	f := &fixture{
		store:  st,
		mr:     mr,
		cache:  cache.New(rdb, "test"),
		codec:  utils.NewCodec(testSecret, 15*time.Minute, 24*time.Hour),
		signer: utils.NewSigner(testSecret),
		mailer: &recordMailer{},
		events: &recordEvents{},
		log:    slog.Default(),
	}
	f.identity = NewIdentityResolver(st.Users(), f.cache, time.Hour, f.log)
	f.auth = NewAuthService(st.Users(), st.Sessions(), st.Tokens(), f.identity, f.codec, f.log)
	return f
}

func (f *fixture) addUser(t *testing.T, login, password string, active bool, roles ...string) *model.User {
	t.Helper()
	hash, err := utils.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	if len(roles) == 0 {
		roles = []string{model.RoleUser}
	}
	u := &model.User{
		Login:        login,
		Email:        login + "@example.com",
		PasswordHash: hash,
		FirstName:    "First",
		LastName:     "Last",
		IsActive:     active,
		Roles:        roles,
	}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) login(t *testing.T, login, password string) *AuthResult {
	t.Helper()
	res, err := f.auth.Login(context.Background(), login, password, model.ClientMeta{IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return res
}

func (f *fixture) session(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := f.store.Sessions().Get(context.Background(), id)
	require.NoError(t, err)
	return s
}
