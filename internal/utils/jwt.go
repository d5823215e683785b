package utils // package utils provides token, hashing and retry helpers

import (
	"crypto/sha256" // SHA‑256 hashing of tokens before they are stored
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
	"github.com/google/uuid"
)

// TokenKind separates access tokens from refresh tokens.  A token of one
// kind is never accepted where the other is expected.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

var (
	// ErrTokenInvalid covers bad signatures, malformed input and a token of
	// the wrong kind.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for a correctly signed token past its exp.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the payload of every token issued by the service.  Subject is
// the user id, SessionID names the login session the token belongs to.
type Claims struct {
	Roles     []string  `json:"roles"`
	SessionID string    `json:"sid"`
	Kind      TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed token along with its expiry.
type IssuedToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires"`
}

// TokenPair is what login and refresh hand to the client.
type TokenPair struct {
	Access  IssuedToken `json:"access"`
	Refresh IssuedToken `json:"refresh"`
}

// Codec issues and verifies HS256 tokens with a single secret.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewCodec returns a codec signing with secret.  Access tokens live for
// accessTTL and refresh tokens for refreshTTL.
func NewCodec(secret string, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; tests use it to issue tokens that
// are already expired.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// NewAccessToken signs a short-lived token carrying the user's roles.
func (c *Codec) NewAccessToken(userID string, roles []string, sessionID string) (IssuedToken, error) {
	return c.issue(userID, roles, sessionID, KindAccess, c.accessTTL)
}

// NewRefreshToken signs a long-lived token used to rotate the pair.
func (c *Codec) NewRefreshToken(userID string, roles []string, sessionID string) (IssuedToken, error) {
	return c.issue(userID, roles, sessionID, KindRefresh, c.refreshTTL)
}

// NewPair issues both tokens for the same session.
func (c *Codec) NewPair(userID string, roles []string, sessionID string) (TokenPair, error) {
	access, err := c.NewAccessToken(userID, roles, sessionID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.NewRefreshToken(userID, roles, sessionID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (c *Codec) issue(userID string, roles []string, sessionID string, kind TokenKind, ttl time.Duration) (IssuedToken, error) {
	now := c.now()
	exp := now.Add(ttl)
	if roles == nil {
		roles = []string{}
	}
	claims := Claims{
		Roles:     roles,
		SessionID: sessionID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(), // two tokens are never byte-identical
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return IssuedToken{Token: signed, Exp: exp}, nil
}

// Parse verifies raw and checks it is of the wanted kind.  For a token
// that is correctly signed but expired, the claims are returned together
// with ErrTokenExpired so callers can still find its session.
func (c *Codec) Parse(raw string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		if claims.Kind != kind || claims.Subject == "" {
			return nil, ErrTokenInvalid
		}
		return claims, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
	if claims.Kind != kind || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// HashToken returns the SHA‑256 hash of a token as a hex string.  Only
// this hash is ever persisted, so a leaked table cannot be replayed.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
