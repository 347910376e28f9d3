// Package repository holds the document-store access for every entity
// except the capacity counter, which only the ledger mutates.  These
// sentinel values allow handlers to tell failure scenarios apart.
package repository

import (
	"errors"

	"github.com/iliyamo/parking-reservation/internal/docstore"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate this into 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be applied to the
// current state, such as settling an already settled payment.  Handlers
// translate this into 409.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned by sign-up for a taken address.
var ErrEmailExists = errors.New("email already exists")

// ErrInvalid marks input rejected before anything was written.
var ErrInvalid = errors.New("invalid input")

// ErrNotFound is the store's not-found error.  Repository errors wrap it.
var ErrNotFound = docstore.ErrNotFound

// Collection names.
const (
	CollUsers         = "users"
	CollUserEmails    = "userEmails"
	CollRefreshTokens = "refreshTokens"
	CollVehicles      = "vehicles"
	CollLots          = "parkingLots"
	CollBookings      = "bookings"
	CollPayments      = "payments"
)
