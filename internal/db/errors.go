package db

import (
	"database/sql"
	"errors"
	"fmt"

	"playtimetracker/internal/errs"
)

// storeError classifies a driver error. sql.ErrNoRows becomes errs.ErrNotFound,
// everything else is a transient store failure.
func storeError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, errs.ErrStoreUnavailable, err)
}
