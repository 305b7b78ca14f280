package stagesync

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind      = errors.New("unknown document kind")
	ErrValidation       = errors.New("validation failed")
	ErrVersionConflict  = errors.New("version conflict")
	ErrStoreUnavailable = errors.New("state store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotImplemented   = errors.New("not implemented")
)

// ConflictError reports a lost optimistic-concurrency race. It carries the
// version currently stored so the caller can reload and resubmit.
type ConflictError struct {
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.ExpectedVersion, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
