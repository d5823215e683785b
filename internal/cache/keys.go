package cache

import (
	"sort"
	"strconv"
	"strings"
)

// UserKey is where the view of one user is cached.
func UserKey(id string) string { return "user:" + id }

// RoleKey is where one role and its members are cached.
func RoleKey(id uint64) string { return "role:" + strconv.FormatUint(id, 10) }

// ResetKey throttles reset-password emails to one address.
func ResetKey(email string) string { return "reset_password:" + strings.ToLower(email) }

// ListKey builds the key of a cached list query.  Params are sorted so
// the same query always maps to the same key.
func ListKey(kind string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("list:")
	b.WriteString(kind)
	for _, k := range names {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
