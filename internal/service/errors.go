package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/theatre-auth/internal/repository"
)

// Errors surfaced to handlers.  Each maps to one HTTP status in
// handler.ErrorHandler; anything else becomes a logged 500.
var (
	ErrNotFound        = repository.ErrNotFound
	ErrUnavailable     = repository.ErrUnavailable
	ErrInactive        = errors.New("user is not active")
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenReuse      = errors.New("refresh token already used")
	ErrSessionClosed   = errors.New("session is closed")
	ErrAccessDenied    = errors.New("access denied")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
)

// badRequest wraps ErrBadRequest with a message meant for the caller.
func badRequest(msg string) error { return fmt.Errorf("%w: %s", ErrBadRequest, msg) }

// conflict wraps ErrConflict with a message meant for the caller.
func conflict(msg string) error { return fmt.Errorf("%w: %s", ErrConflict, msg) }

// notFound wraps ErrNotFound with the kind of thing that was missing.
func notFound(what string) error { return fmt.Errorf("%w: %s", ErrNotFound, what) }
