package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/parking-reservation/internal/docstore"
)

var (
	// ErrValidation marks a malformed request.  Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrCapacityExceeded means the lot has no free space.  Nothing was written.
	ErrCapacityExceeded = errors.New("parking lot is fully booked")
	// ErrInvalidVehicle means the vehicle is missing, not the caller's or not active.
	ErrInvalidVehicle = errors.New("vehicle is not the caller's active vehicle")
	// ErrLotInactive means the lot does not accept bookings.
	ErrLotInactive = errors.New("parking lot is not active")
	// ErrNotFound is the store's not-found error.
	ErrNotFound = docstore.ErrNotFound
	// ErrBookingNotFound and ErrLotNotFound both match ErrNotFound.
	ErrBookingNotFound = fmt.Errorf("booking: %w", ErrNotFound)
	ErrLotNotFound     = fmt.Errorf("parking lot: %w", ErrNotFound)
	// ErrAlreadyClosed is the conflict of closing a closed booking.  Close
	// swallows it and reports CloseResult.AlreadyClosed instead.
	ErrAlreadyClosed = errors.New("booking already closed")
	// ErrStoreUnavailable is retryable.  When it wraps a deadline the
	// outcome is unknown and callers should re-query before retrying.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNeedsTransactions is returned by operations that cannot be made
	// safe with single-document writes.
	ErrNeedsTransactions = errors.New("operation needs a transactional store")
	// ErrPartialFailure means a compensating write failed and lot capacity
	// may be short until reconciled.
	ErrPartialFailure = errors.New("partial failure")
)

// Retryable reports whether err may succeed when the request is repeated.
func Retryable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// OutcomeUnknown reports whether err came from a deadline or
// cancellation, after which the write may or may not have been applied.
func OutcomeUnknown(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// storeErr classifies a store error that is not already one of ours.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isLedgerErr(err):
		return err
	case OutcomeUnknown(err):
		return fmt.Errorf("%w: %s outcome unknown: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func isLedgerErr(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrCapacityExceeded, ErrInvalidVehicle, ErrLotInactive,
		ErrNotFound, ErrAlreadyClosed, ErrStoreUnavailable, ErrPartialFailure, ErrNeedsTransactions,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
