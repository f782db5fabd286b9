package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotFound          = errors.New("event not found")
	ErrMissingInviteCode = errors.New("invite code required")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrAlreadyJoined     = errors.New("already joined event")
	ErrNotJoined         = errors.New("event not joined")
	ErrEventFull         = errors.New("event is full")

	// ErrContention is returned once the retry budget of a capacity
	// transaction is spent. Callers may retry.
	ErrContention = errors.New("event is busy, try again")
	// ErrStoreUnavailable wraps backend and network failures. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrMalformed        = errors.New("malformed schedule")

	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")

	// ErrConflict is raised by a CapacityStore when a concurrent writer won
	// the compare-and-swap. It never leaves the service layer.
	ErrConflict = errors.New("write conflict")
)

// Unavailable marks a backend failure as ErrStoreUnavailable while keeping
// the cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrStoreUnavailable)
}

// ValidationError carries per-field messages for a rejected event draft.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
