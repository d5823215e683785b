package repository

import (
	"strconv"
	"strings"
)

// Page bounds a list query.  Results are ordered by creation time, newest
// last unless Desc is set.
type Page struct {
	Limit  int
	Offset int
	Desc   bool
}

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Normalize applies the default and maximum limit and clamps the offset.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Params renders p for cache keys.
func (p Page) Params() map[string]string {
	p = p.Normalize()
	return map[string]string{
		"limit":  strconv.Itoa(p.Limit),
		"offset": strconv.Itoa(p.Offset),
		"desc":   strconv.FormatBool(p.Desc),
	}
}

func (p Page) order() string {
	if p.Desc {
		return "DESC"
	}
	return "ASC"
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
