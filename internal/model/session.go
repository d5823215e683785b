package model

import "time"

// EndReason records why a session was closed.  A session that is still
// open carries EndLogin, the value written when it is started.
type EndReason string

const (
	EndLogin          EndReason = "login"
	EndLogout         EndReason = "logout"
	EndInvalidRefresh EndReason = "invalid_refresh"
	EndExpired        EndReason = "expired"
)

// Session models a row of the `sessions` table: one per login event.
// RefreshHash holds the SHA‑256 of the refresh token currently valid for
// the session; it is replaced on every rotation.
//
// Fields:
//	ID          – UUID primary key, embedded in tokens as "sid".
//	UserID      – owner of the session.
//	StartedAt   – login time.
//	EndedAt     – close time (nil while open).
//	EndReason   – login while open, otherwise why it closed.
//	RefreshHash – hash of the active refresh token.
//	IPAddress   – client address at login.
//	UserAgent   – client user agent at login.
type Session struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	StartedAt   time.Time  `json:"start"`
	EndedAt     *time.Time `json:"end"`
	EndReason   EndReason  `json:"end_type"`
	RefreshHash string     `json:"-"`
	IPAddress   string     `json:"ip_address,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool { return s.EndedAt == nil }

// UsedToken is an entry of the append-only `used_refresh_tokens` ledger.
// The token itself is never stored, only its hash, which is unique.
type UsedToken struct {
	ID        uint64    // used_refresh_tokens.id
	UserID    string    // used_refresh_tokens.user_id
	TokenHash string    // used_refresh_tokens.token_hash
	CreatedAt time.Time // used_refresh_tokens.created_at
}

// ClientMeta carries the caller details recorded on a new session.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}
