// Package errs defines the error kinds shared by the store, the tracker and the API.
package errs

import "errors"

// Error kinds. Callers match them with errors.Is; the wrapped cause carries the detail.
var (
	// ErrNotFound means the requested row does not exist. Retrying will not help.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable covers pool exhaustion, connectivity and SQL execution failures.
	// It is transient: the same call may succeed later.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConfiguration means the input or configuration is invalid and will never succeed.
	ErrConfiguration = errors.New("configuration error")
)

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
