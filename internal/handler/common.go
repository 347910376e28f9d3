// Package handler contains the echo handlers of the HTTP API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/ledger"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// Ledger is the part of *ledger.Ledger the handlers drive.
type Ledger interface {
	Reserve(ctx context.Context, req ledger.ReserveRequest) (*ledger.Reservation, error)
	Close(ctx context.Context, req ledger.CloseRequest) (*ledger.CloseResult, error)
	Resize(ctx context.Context, lotID string, newTotal int) (*model.ParkingLot, error)
	Audit(ctx context.Context, lotID string) (*ledger.AuditReport, error)
	Reconcile(ctx context.Context, lotID string) (*ledger.AuditReport, error)
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// userID returns the authenticated caller.  JWTAuth guarantees it on
// protected routes.
func userID(c echo.Context) (string, error) {
	return identity.CurrentUserID(c.Request().Context())
}

func limitParam(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// fail writes the HTTP form of err.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrPartialFailure):
		log.Errorf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error(), "partial": true})
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"error":           "store unavailable, try again",
			"retryable":       true,
			"outcome_unknown": ledger.OutcomeUnknown(err),
		})
	case errors.Is(err, ledger.ErrNeedsTransactions):
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": err.Error()})
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, repository.ErrInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, ledger.ErrInvalidVehicle), errors.Is(err, ledger.ErrLotInactive):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, ledger.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "parking lot is fully booked"})
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
	case errors.Is(err, ledger.ErrAlreadyClosed), errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, identity.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, identity.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "timeout"})
	}
	log.Errorf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
