package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/theatre-auth/internal/cache"
	"github.com/iliyamo/theatre-auth/internal/config"
	"github.com/iliyamo/theatre-auth/internal/handler"
	"github.com/iliyamo/theatre-auth/internal/middleware"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository/memstore"
	"github.com/iliyamo/theatre-auth/internal/service"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

const secret = "router-secret"

type testServer struct {
	e      *echo.Echo
	store  *memstore.Store
	signer *utils.Signer
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memstore.New()
	require.NoError(t, st.Roles().EnsureRoles(ctx, model.DefaultRoles()...))
	store := cache.New(rdb, "auth")
	signer := utils.NewSigner(secret)
	codec := utils.NewCodec(secret, 15*time.Minute, 24*time.Hour)
	mailer := service.NewLogMailer(nil)
	events := service.NewLogEvents(nil)

	identity := service.NewIdentityResolver(st.Users(), store, time.Hour, nil)
	auth := service.NewAuthService(st.Users(), st.Sessions(), st.Tokens(), identity, codec, nil)
	signup := service.NewSignupService(st.Users(), identity, signer, mailer, events, service.SignupOptions{
		BcryptCost: bcrypt.MinCost, FrontendURL: "http://front.test", ConfirmationMaxAge: time.Hour,
	}, nil)
	users := service.NewUserService(st.Users(), st.Tokens(), identity, store, signer, mailer, service.UserOptions{
		BcryptCost: bcrypt.MinCost, FrontendURL: "http://front.test", LinkMaxAge: time.Hour, ListTTL: time.Minute, ResetTTL: time.Minute,
	}, nil)
	roles := service.NewRoleService(st.Roles(), identity, store, time.Minute, nil)
	grants := service.NewUserRoleService(st.Roles(), identity, store, nil)
	oauth := service.NewOAuthService(map[string]service.OAuthProvider{}, st.Users(), st.Social(), auth, identity, signer, events, nil)

	limit := config.RateLimitConfig{Enabled: true, Capacity: 100, RefillTokens: 100, RefillInterval: time.Minute, TTL: time.Hour, KeyStrategy: "ip_route", Prefix: "rl"}

	e := echo.New()
	e.HTTPErrorHandler = handler.ErrorHandler(nil)
	RegisterRoutes(e, Deps{
		Auth:    handler.NewAuthHandler(auth, oauth, handler.Cookies{}),
		Signup:  handler.NewSignupHandler(signup),
		Users:   handler.NewUserHandler(users, service.NewSessionService(st.Sessions())),
		Roles:   handler.NewRoleHandler(roles, grants),
		Health:  &handler.Health{},
		Guard:   auth,
		Service: middleware.ServiceAuth(signer, []string{"ugc_service"}, time.Hour, nil),
		Limit:   middleware.NewTokenBucket(limit, rdb, nil),
	})
	return &testServer{e: e, store: st, signer: signer}
}

type call struct {
	method, path, body string
	bearer             string
	cookies            []*http.Cookie
	header             map[string]string
}

func (s *testServer) do(c call) *httptest.ResponseRecorder {
	var req *http.Request
	if c.body != "" {
		req = httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(c.method, c.path, nil)
	}
	if c.bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.bearer)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) addUser(t *testing.T, login string, roles ...string) *model.User {
	t.Helper()
	hash, err := utils.HashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Login: login, Email: login + "@example.com", PasswordHash: hash, IsActive: true, Roles: roles}
	require.NoError(t, s.store.Users().Create(context.Background(), u))
	return u
}

type authBody struct {
	User      model.UserView  `json:"user"`
	Tokens    utils.TokenPair `json:"tokens"`
	SessionID string          `json:"session_id"`
}

func (s *testServer) login(t *testing.T, login string) (authBody, *httptest.ResponseRecorder) {
	t.Helper()
	rec := s.do(call{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"login":"` + login + `","password":"pw"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out authBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out, rec
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestSignupConfirmLogin(t *testing.T) {
	s := newServer(t)
	rec := s.do(call{method: http.MethodPost, path: "/api/v1/signup",
		body: `{"login":"eve","email":"eve@example.com","password":"pw","password_confirm":"pw"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view model.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.IsActive)

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"login":"eve","password":"pw"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)

	code, err := s.signer.For(utils.PurposeConfirm).EncodeID(view.ID)
	require.NoError(t, err)
	rec = s.do(call{method: http.MethodGet, path: "/api/v1/signup/confirm/" + code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/signup/confirm/garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.login(t, "eve")
}

func TestLoginErrors(t *testing.T) {
	s := newServer(t)
	s.addUser(t, "alice", model.RoleUser)

	rec := s.do(call{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"login":"alice","password":"bad"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", errorOf(t, rec))

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"login":"ghost","password":"pw"}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/login", body: `{`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshReplayAndLogout(t *testing.T) {
	s := newServer(t)
	s.addUser(t, "alice", model.RoleUser)
	first, rec := s.login(t, "alice")

	access := cookie(rec, middleware.AccessCookie)
	refresh := cookie(rec, middleware.RefreshCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, refresh.SameSite)

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/refresh", cookies: []*http.Cookie{refresh}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := cookie(rec, middleware.RefreshCookie)
	require.NotNil(t, rotated)
	assert.NotEqual(t, refresh.Value, rotated.Value)

	// the old refresh token is spent
	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/refresh", body: `{"refresh_token":"` + first.Tokens.Refresh.Token + `"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	sess, err := s.store.Sessions().Get(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.EndInvalidRefresh, sess.EndReason)

	// a fresh login can log out cleanly
	second, rec := s.login(t, "alice")
	rec = s.do(call{method: http.MethodDelete, path: "/api/v1/auth/logout",
		cookies: []*http.Cookie{cookie(rec, middleware.AccessCookie), cookie(rec, middleware.RefreshCookie)}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	cleared := cookie(rec, middleware.AccessCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	sess, err = s.store.Sessions().Get(context.Background(), second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.EndLogout, sess.EndReason)
}

func TestCheckout(t *testing.T) {
	s := newServer(t)
	u := s.addUser(t, "alice", model.RoleUser)
	body, _ := s.login(t, "alice")

	rec := s.do(call{method: http.MethodGet, path: "/api/v1/auth/checkout", bearer: body.Tokens.Access.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var out model.Checkout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, u.ID, out.UserData.UserID)
	assert.Equal(t, []string{model.RoleUser}, out.UserRoles)

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/auth/checkout"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsersAPIGuards(t *testing.T) {
	s := newServer(t)
	alice := s.addUser(t, "alice", model.RoleUser)
	s.addUser(t, "mod", model.RoleModerator)
	user, _ := s.login(t, "alice")
	mod, _ := s.login(t, "mod")

	rec := s.do(call{method: http.MethodGet, path: "/api/v1/users"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/users", bearer: user.Tokens.Access.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/users?limit=1", bearer: mod.Tokens.Access.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	svcToken, err := s.signer.For(utils.PurposeService).EncodeID("ugc_service")
	require.NoError(t, err)
	rec = s.do(call{method: http.MethodGet, path: "/api/v1/users/" + alice.ID, header: map[string]string{middleware.ServiceTokenHeader: svcToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	other, err := s.signer.For(utils.PurposeService).EncodeID("rogue_service")
	require.NoError(t, err)
	rec = s.do(call{method: http.MethodGet, path: "/api/v1/users/" + alice.ID, header: map[string]string{middleware.ServiceTokenHeader: other}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "service not allowed", errorOf(t, rec))

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/users/bulk", body: `{"ids":["` + alice.ID + `","nope"]}`, bearer: mod.Tokens.Access.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), alice.ID)

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/users/missing", bearer: mod.Tokens.Access.Token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsEndpoint(t *testing.T) {
	s := newServer(t)
	alice := s.addUser(t, "alice", model.RoleUser)
	s.addUser(t, "bob", model.RoleUser)
	a, _ := s.login(t, "alice")
	b, _ := s.login(t, "bob")

	rec := s.do(call{method: http.MethodGet, path: "/api/v1/users/" + alice.ID + "/sessions", bearer: a.Tokens.Access.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), a.SessionID)

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/users/" + alice.ID + "/sessions", bearer: b.Tokens.Access.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRolesAPI(t *testing.T) {
	s := newServer(t)
	alice := s.addUser(t, "alice", model.RoleUser)
	s.addUser(t, "boss", model.RoleAdmin)
	admin, _ := s.login(t, "boss")
	user, _ := s.login(t, "alice")
	tok := admin.Tokens.Access.Token

	rec := s.do(call{method: http.MethodGet, path: "/api/v1/roles", bearer: user.Tokens.Access.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/roles", body: `{"name":"critic"}`, bearer: tok})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role model.Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/roles", body: `{"name":"critic"}`, bearer: tok})
	assert.Equal(t, http.StatusConflict, rec.Code)

	grant := `{"user_id":"` + alice.ID + `","role_id":` + jsonNumber(role.ID) + `}`
	rec = s.do(call{method: http.MethodPost, path: "/api/v1/user-roles", body: grant, bearer: tok})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/roles/" + jsonNumber(role.ID), bearer: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), alice.ID)

	rec = s.do(call{method: http.MethodPatch, path: "/api/v1/roles/" + jsonNumber(role.ID), body: `{"name":"film critic"}`, bearer: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "film-critic")

	rec = s.do(call{method: http.MethodDelete, path: "/api/v1/user-roles", body: grant, bearer: tok})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(call{method: http.MethodDelete, path: "/api/v1/roles/" + jsonNumber(role.ID), bearer: tok})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(call{method: http.MethodGet, path: "/api/v1/roles/abc", bearer: tok})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newServer(t)
	alice := s.addUser(t, "alice", model.RoleUser)

	rec := s.do(call{method: http.MethodPost, path: "/api/v1/users/reset-password", body: `{"email":"alice@example.com"}`})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = s.do(call{method: http.MethodPost, path: "/api/v1/users/reset-password", body: `{"email":"alice@example.com"}`})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	code, err := s.signer.For(utils.PurposeReset).EncodeID(alice.ID)
	require.NoError(t, err)
	rec = s.do(call{method: http.MethodPost, path: "/api/v1/users/reset-password/" + code, body: `{"password":"pw2","password_confirm":"pw2"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"login":"alice","password":"pw2"}`})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOAuthUnknownProvider(t *testing.T) {
	s := newServer(t)
	rec := s.do(call{method: http.MethodGet, path: "/api/v1/auth/oauth/myspace"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(call{method: http.MethodPost, path: "/api/v1/auth/oauth/unlink", body: `{"provider":"all"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
