package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
)

var (
	// ErrConflict reports an optimistic-concurrency failure: the session row
	// changed between the read and the version-guarded write. Callers match it
	// with errors.Is; no error-text inspection anywhere.
	ErrConflict = errors.New("session version conflict")

	// ErrNotFound reports a missing row on operations that cannot express
	// absence as a nil result (rename, soft delete).
	ErrNotFound = errors.New("session not found")
)

// IsTransient reports whether err looks like a recoverable I/O failure worth
// a backoff retry. Conflicts and missing rows are deliberate outcomes, never
// transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
