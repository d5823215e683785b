package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerServer(t *testing.T, userinfo map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(userinfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestYandex_Exchange(t *testing.T) {
	srv := providerServer(t, map[string]any{
		"psuid":         "ya-1",
		"login":         "bob@yandex.ru",
		"default_email": "Bob@Yandex.ru",
		"first_name":    "Bob",
		"last_name":     "Smith",
	})
	p := Yandex(Credentials{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://app/cb"}).
		WithEndpoints(srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	prof, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, Profile{
		Provider:       "yandex",
		ProviderUserID: "ya-1",
		Login:          "bob",
		Email:          "bob@yandex.ru",
		FirstName:      "Bob",
		LastName:       "Smith",
	}, prof)
}

func TestGoogle_ExchangeRejectedCode(t *testing.T) {
	srv := providerServer(t, map[string]any{})
	p := Google(Credentials{ClientID: "id"}).WithEndpoints(srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")
	_, err := p.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGoogle_IncompleteProfile(t *testing.T) {
	srv := providerServer(t, map[string]any{"id": "g-1"})
	p := Google(Credentials{ClientID: "id"}).WithEndpoints(srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")
	_, err := p.Exchange(context.Background(), "good-code")
	assert.ErrorIs(t, err, ErrIncompleteProfile)
}

func TestAuthCodeURL_CarriesState(t *testing.T) {
	p := Google(Credentials{ClientID: "cid", RedirectURL: "http://app/cb"})
	u, err := url.Parse(p.AuthCodeURL("signed-state"))
	require.NoError(t, err)
	assert.Equal(t, "signed-state", u.Query().Get("state"))
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "google", p.Name())
}
