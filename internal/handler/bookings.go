package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/ledger"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/receipt"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// BookingHandler serves the customer booking flow.
type BookingHandler struct {
	Ledger   Ledger
	Bookings *repository.BookingRepo
	Payments *repository.PaymentRepo
	Lots     *repository.LotRepo
	Vehicles *repository.VehicleRepo
}

func NewBookingHandler(l Ledger, b *repository.BookingRepo, p *repository.PaymentRepo, lots *repository.LotRepo, v *repository.VehicleRepo) *BookingHandler {
	return &BookingHandler{Ledger: l, Bookings: b, Payments: p, Lots: lots, Vehicles: v}
}

type reserveReq struct {
	ParkingLotID  string  `json:"parkingLotId"`
	VehicleID     string  `json:"vehicleId"`
	PlannedHours  float64 `json:"plannedHours"`
	PaymentMethod string  `json:"paymentMethod"`
}

type closeReq struct {
	ActualHours null.Float `json:"actualHours"`
	TotalAmount null.Float `json:"totalAmount"`
}

// Reserve books one space.  Without vehicleId the caller's active
// vehicle is used.
func (h *BookingHandler) Reserve(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx := c.Request().Context()
	if req.VehicleID == "" {
		v, err := h.Vehicles.Active(ctx, uid)
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "register or activate a vehicle first"})
		}
		if err != nil {
			return fail(c, err)
		}
		req.VehicleID = v.ID
	}
	res, err := h.Ledger.Reserve(ctx, ledger.ReserveRequest{
		UserID:        uid,
		VehicleID:     req.VehicleID,
		ParkingLotID:  req.ParkingLotID,
		PlannedHours:  req.PlannedHours,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"booking": res.Booking, "payment": res.Payment})
}

// List returns the caller's bookings, newest first.
func (h *BookingHandler) List(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Bookings.ListByUser(c.Request().Context(), uid, limitParam(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *BookingHandler) Active(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	b, err := h.Bookings.ActiveForUser(c.Request().Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) own(c echo.Context) (*model.Booking, error) {
	uid, err := userID(c)
	if err != nil {
		return nil, err
	}
	return h.Bookings.GetOwned(c.Request().Context(), c.Param("id"), uid)
}

func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.own(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) Complete(c echo.Context) error {
	return h.close(c, model.BookingCompleted)
}

func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.close(c, model.BookingCancelled)
}

// close ends an owned booking.  Closing an already closed booking
// succeeds with alreadyClosed set and changes nothing.
func (h *BookingHandler) close(c echo.Context, outcome model.BookingStatus) error {
	b, err := h.own(c)
	if err != nil {
		return fail(c, err)
	}
	var req closeReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	res, err := h.Ledger.Close(c.Request().Context(), ledger.CloseRequest{
		BookingID:   b.ID,
		Outcome:     outcome,
		ActualHours: req.ActualHours,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": res.Booking, "alreadyClosed": res.AlreadyClosed})
}

// Receipt renders the PDF receipt of an owned booking.
func (h *BookingHandler) Receipt(c echo.Context) error {
	b, err := h.own(c)
	if err != nil {
		return fail(c, err)
	}
	ctx := c.Request().Context()
	lot, err := h.Lots.Get(ctx, b.ParkingLotID)
	if err != nil {
		return fail(c, err)
	}
	data := receipt.Data{Booking: *b, Lot: *lot}
	if p, err := h.Payments.ByBooking(ctx, b.ID); err == nil {
		data.Payment = p
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fail(c, err)
	}
	if v, err := h.Vehicles.Get(ctx, b.VehicleID); err == nil {
		data.Vehicle = v
	}

	var buf bytes.Buffer
	if err := receipt.Render(&buf, data); err != nil {
		return fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", "receipt-"+b.ID+".pdf"))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}
