package model

import (
	"strings"
	"time"
	"unicode"
)

// Role represents a row in the `roles` table.  Slug is derived from
// Name and changes with it.
type Role struct {
	ID        uint64       `json:"id"`
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	CreatedAt time.Time    `json:"-"`
	Users     []RoleMember `json:"users"`
}

// RoleMember is a user holding a role, as listed by GET /roles/:id.
type RoleMember struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// UserRole is a row of the `user_roles` join table.
type UserRole struct {
	ID     uint64 `json:"id"`
	UserID string `json:"user_id"`
	RoleID uint64 `json:"role_id"`
}

// Role names known to the access tables.  Other role names may exist in
// the database but never satisfy an access level.
const (
	RoleUser       = "user"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleGodEmperor = "god_emperor"
)

// AccessLevel is the fixed capability enumeration used by the access
// guard.  Each level is satisfied by the roles listed in levelRoles.
type AccessLevel int

const (
	LevelUser AccessLevel = iota
	LevelModerator
	LevelAdmin
	LevelGodEmperor
)

// levelRoles is the superset table: a higher role satisfies every level
// below it.
var levelRoles = map[AccessLevel][]string{
	LevelUser:       {RoleUser, RoleModerator, RoleAdmin, RoleGodEmperor},
	LevelModerator:  {RoleModerator, RoleAdmin, RoleGodEmperor},
	LevelAdmin:      {RoleAdmin, RoleGodEmperor},
	LevelGodEmperor: {RoleGodEmperor},
}

// Roles returns the role names that satisfy l.  Unknown levels return nil
// so nothing satisfies them.
func (l AccessLevel) Roles() []string {
	roles := levelRoles[l]
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}

func (l AccessLevel) String() string {
	switch l {
	case LevelUser:
		return RoleUser
	case LevelModerator:
		return RoleModerator
	case LevelAdmin:
		return RoleAdmin
	case LevelGodEmperor:
		return RoleGodEmperor
	}
	return "unknown"
}

// Allows reports whether any of roles satisfies l.  An empty
// intersection always denies.
func (l AccessLevel) Allows(roles []string) bool {
	for _, want := range levelRoles[l] {
		for _, have := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// DefaultRoles are created at startup when missing.
func DefaultRoles() []string {
	return []string{RoleUser, RoleModerator, RoleAdmin, RoleGodEmperor}
}

// Slugify lowercases name and joins runs of letters and digits with "-".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
