package datastore

import (
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/tphakala/pendant-go/internal/errors"
)

// Sentinel errors for repository operations.
var (
	// ErrDetectionNotFound indicates the requested detection does not exist.
	ErrDetectionNotFound = errors.NewStd("detection not found")

	// ErrWindowNotFound indicates the requested audio window does not exist.
	ErrWindowNotFound = errors.NewStd("audio window not found")

	// ErrRunNotFound indicates the requested processing run does not exist.
	ErrRunNotFound = errors.NewStd("processing run not found")

	// ErrRunAlreadyFinalized indicates the run row has already left the running state.
	ErrRunAlreadyFinalized = errors.NewStd("processing run already finalized")

	// ErrUserNotFound indicates the user has no processing state row.
	ErrUserNotFound = errors.NewStd("user not found")

	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.NewStd("duplicate key")
)

// dbError creates a categorized database error with context pairs.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if isDatabaseLocked(err) {
		builder = builder.Priority(errors.PriorityHigh).Context("locked", true)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

// validationError creates a validation error for bad repository input.
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// isDatabaseLocked reports whether err is a SQLite busy/locked condition or
// the MySQL equivalent lock wait timeout.
func isDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "lock wait timeout")
}
