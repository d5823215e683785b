// Package client calls other services of the platform on behalf of auth.
package client

import (
	"sync"
	"time"

	"github.com/iliyamo/theatre-auth/internal/utils"
)

// TokenManager hands out this service's X-Service-Token.  The token is
// cached and signed again one hour before it would reach maxAge.
type TokenManager struct {
	signer  *utils.Signer
	service string
	maxAge  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenManager(signer *utils.Signer, service string, maxAge time.Duration) *TokenManager {
	return &TokenManager{signer: signer.For(utils.PurposeService), service: service, maxAge: maxAge, now: time.Now}
}

// Token returns a service token valid for at least the next hour, or for
// half of maxAge when maxAge is shorter than two hours.
func (m *TokenManager) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.token != "" && now.Before(m.expires) {
		return m.token, nil
	}
	tok, err := m.signer.EncodeID(m.service)
	if err != nil {
		return "", err
	}
	margin := time.Hour
	if m.maxAge < 2*margin {
		margin = m.maxAge / 2
	}
	m.token, m.expires = tok, now.Add(m.maxAge-margin)
	return tok, nil
}
