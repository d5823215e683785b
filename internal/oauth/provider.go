// Package oauth wraps golang.org/x/oauth2 for the external identity
// providers users can sign in with.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Profile is a provider account normalised for user creation.
type Profile struct {
	Provider       string
	ProviderUserID string
	Login          string
	Email          string
	FirstName      string
	LastName       string
}

// ErrIncompleteProfile is returned when the provider did not share an id
// or an email address.
var ErrIncompleteProfile = errors.New("provider profile lacks id or email")

// Provider runs the authorization code flow against one provider and
// reads the user's profile with the obtained token.
type Provider struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
	decode      func(map[string]any) Profile
}

// Credentials are the client settings registered with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Google builds the google provider.
func Google(c Credentials) *Provider {
	return &Provider{
		name: "google",
		conf: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v1/userinfo",
		decode: func(m map[string]any) Profile {
			email := str(m, "email")
			return Profile{
				ProviderUserID: str(m, "id"),
				Login:          localPart(email),
				Email:          email,
				FirstName:      str(m, "given_name"),
				LastName:       str(m, "family_name"),
			}
		},
	}
}

// Yandex builds the yandex provider.
func Yandex(c Credentials) *Provider {
	return &Provider{
		name: "yandex",
		conf: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     endpoints.Yandex,
			Scopes:       []string{"login:info", "login:email"},
		},
		userInfoURL: "https://login.yandex.ru/info?format=json",
		decode: func(m map[string]any) Profile {
			return Profile{
				ProviderUserID: str(m, "psuid"),
				Login:          localPart(str(m, "login")),
				Email:          str(m, "default_email"),
				FirstName:      str(m, "first_name"),
				LastName:       str(m, "last_name"),
			}
		},
	}
}

// WithEndpoints points the provider at other URLs; tests use it with an
// httptest server.
func (p *Provider) WithEndpoints(authURL, tokenURL, userInfoURL string) *Provider {
	cp := *p
	conf := *p.conf
	conf.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	cp.conf = &conf
	cp.userInfoURL = userInfoURL
	return &cp
}

func (p *Provider) Name() string { return p.name }

// AuthCodeURL is where the user is sent to sign in.
func (p *Provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a token and fetches the
// profile with it.
func (p *Provider) Exchange(ctx context.Context, code string) (Profile, error) {
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%s exchange: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := p.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%s userinfo: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%s userinfo: status %d", p.name, resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return Profile{}, fmt.Errorf("%s userinfo: %w", p.name, err)
	}
	prof := p.decode(raw)
	prof.Provider = p.name
	prof.Email = strings.ToLower(strings.TrimSpace(prof.Email))
	if prof.ProviderUserID == "" || prof.Email == "" {
		return Profile{}, ErrIncompleteProfile
	}
	if prof.Login == "" {
		prof.Login = localPart(prof.Email)
	}
	return prof, nil
}

func str(m map[string]any, k string) string {
	switch v := m[k].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func localPart(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}
