package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

var fastRetry = utils.RetryPolicy{Attempts: 5, Base: time.Millisecond, Max: 4 * time.Millisecond}

func TestTokenManager_CachesUntilMargin(t *testing.T) {
	signer := utils.NewSigner("secret").For(utils.PurposeService)
	m := NewTokenManager(utils.NewSigner("secret"), "auth_service", 24*time.Hour)
	now := time.Now()
	m.now = func() time.Time { return now }

	first, err := m.Token()
	require.NoError(t, err)
	id, err := signer.DecodeID(first, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "auth_service", id)

	now = now.Add(22 * time.Hour)
	again, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	now = now.Add(90 * time.Minute)
	m.signer = signer.WithClock(func() time.Time { return now })
	fresh, err := m.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
}

func event() queue.UserRegisteredEvent {
	return queue.UserRegisteredEvent{UserID: "u1", Login: "alice", Email: "alice@example.com"}
}

func TestCreateProfile_SendsServiceToken(t *testing.T) {
	base := utils.NewSigner("secret")
	signer := base.For(utils.PurposeService)
	var got createProfile
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/profiles", r.URL.Path)
		id, err := signer.DecodeID(r.Header.Get(ServiceTokenHeader), time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, "auth_service", id)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewProfilesClient(srv.URL+"/", NewTokenManager(base, "auth_service", 30*24*time.Hour), srv.Client(), nil)
	require.NoError(t, c.CreateProfile(context.Background(), event()))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestCreateProfile_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewProfilesClient(srv.URL, NewTokenManager(utils.NewSigner("s"), "auth_service", time.Hour), srv.Client(), nil).WithRetry(fastRetry)
	require.NoError(t, c.CreateProfile(context.Background(), event()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreateProfile_GivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewProfilesClient(srv.URL, NewTokenManager(utils.NewSigner("s"), "auth_service", time.Hour), srv.Client(), nil).WithRetry(fastRetry)
	assert.Error(t, c.CreateProfile(context.Background(), event()))
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestCreateProfile_ClientErrorIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewProfilesClient(srv.URL, NewTokenManager(utils.NewSigner("s"), "auth_service", time.Hour), srv.Client(), nil).WithRetry(fastRetry)
	assert.Error(t, c.CreateProfile(context.Background(), event()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
