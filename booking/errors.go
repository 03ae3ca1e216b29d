/*
errors.go - Failure kinds surfaced by the reservation core

PURPOSE:
  All error kinds in one place. The facade translates these into HTTP
  status codes; the engine never returns anything the facade cannot
  classify with errors.Is.

ERROR CATEGORIES:
  1. Lookup failures   - NotFound
  2. Business failures - SlotUnavailable, InsufficientPoints, Forbidden,
                         InvalidInput (already-cancelled wraps it)
  3. Infrastructure    - StorageUnavailable, Conflict (internal, retryable)

USAGE:
  if errors.Is(err, booking.ErrSlotUnavailable) { ... }

  var ipe *booking.InsufficientPointsError
  if errors.As(err, &ipe) { ... ipe.Available ... }
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced user, turf, or booking
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSlotUnavailable is returned when a confirmed booking already
	// occupies the requested turf and slot.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrInsufficientPoints is returned when a redemption exceeds the
	// user's point balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrForbidden is returned when a cancel is requested by someone who
	// is neither the booking's owner nor an admin.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is returned for malformed requests: a slot start in
	// the past or off the slot grid, negative points, missing fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyCancelled is returned when cancelling a booking that is
	// not confirmed. Cancellation is terminal.
	ErrAlreadyCancelled = fmt.Errorf("%w: booking already cancelled", ErrInvalidInput)

	// ErrUsernameTaken is returned by user registration on a duplicate
	// username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrStorageUnavailable is returned when the transactional store
	// cannot commit for infrastructure reasons.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConflict marks a write-write race detected at commit time. The
	// engine retries these once internally; they are never surfaced.
	ErrConflict = errors.New("write conflict detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which record was missing.
type NotFoundError struct {
	Kind string // "user", "turf", "booking"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientPointsError reports how far a redemption overshot the balance.
type InsufficientPointsError struct {
	User      UserID
	Available int64
	Requested int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a retry with
// fresh reads.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrUsernameTaken)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
