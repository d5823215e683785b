// Package repository defines the MySQL-backed stores and the error values
// they share.  These sentinel values allow higher layers such as services
// and handlers to distinguish between different failure scenarios without
// looking at driver errors.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/theatre-auth/internal/utils"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique key: an existing
// login or email, a role name, a granted role, or a refresh token hash
// that is already in the used-token ledger.
var ErrDuplicate = errors.New("duplicate")

// ErrStale is returned by compare-and-swap updates when the row no longer
// holds the expected value, e.g. a session rotated or closed meanwhile.
var ErrStale = errors.New("stale")

// ErrUnavailable wraps transient database errors that persisted after
// retries.  Handlers translate it into an HTTP 503 response.
var ErrUnavailable = errors.New("storage unavailable")

// isDuplicate recognises unique-key violations of MySQL (1062) and of the
// SQLite driver used in tests.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "1062") || strings.Contains(msg, "UNIQUE constraint failed")
}

// isTransient reports errors worth retrying: dropped connections, lock
// wait timeouts and deadlocks.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, 1213, 2006, 2013:
			return true
		}
	}
	return false
}

// run executes op with the default retry policy.  Only transient errors
// are retried; when they persist the result wraps ErrUnavailable.
func run(ctx context.Context, op func(context.Context) error) error {
	err := utils.Retry(ctx, utils.DefaultRetry, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && !isTransient(err) {
			return utils.Permanent(err)
		}
		return err
	})
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
