package storage

import (
	"fmt"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")
	// ErrAlreadyExists indicates a create collided with an existing record.
	ErrAlreadyExists = apperrors.New(apperrors.CodeDuplicateItem, "record already exists")
	// ErrConflict indicates an append collided with an existing event key.
	ErrConflict = apperrors.New(apperrors.CodeConcurrency, "event key conflict")
	// ErrUnavailable indicates the backend failed for a reason unrelated to
	// the request.
	ErrUnavailable = apperrors.New(apperrors.CodeStorageUnavailable, "storage unavailable")
)

// Unavailable wraps a driver error as ErrUnavailable, keeping it as the cause.
func Unavailable(op string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStorageUnavailable, fmt.Sprintf("%s: %v", op, cause), cause)
}
