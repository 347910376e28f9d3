package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// LotHandler serves public lot browsing and vendor lot management.
type LotHandler struct {
	Lots        *repository.LotRepo
	BookingRepo *repository.BookingRepo
	Ledger      Ledger
}

func NewLotHandler(lots *repository.LotRepo, bookings *repository.BookingRepo, l Ledger) *LotHandler {
	return &LotHandler{Lots: lots, BookingRepo: bookings, Ledger: l}
}

type createLotReq struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Address      string           `json:"address"`
	Location     model.Coordinate `json:"location"`
	HourlyCharge float64          `json:"hourlyCharge"`
	LateFee      float64          `json:"lateFee"`
	Terms        string           `json:"terms"`
	TotalSpaces  int              `json:"totalSpaces"`
}

type capacityReq struct {
	TotalSpaces int `json:"totalSpaces"`
}

// List returns the active lots.
func (h *LotHandler) List(c echo.Context) error {
	lots, err := h.Lots.ListActive(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": lots})
}

// Get returns one active lot.  Inactive lots are hidden from the public.
func (h *LotHandler) Get(c echo.Context) error {
	lot, err := h.Lots.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if !lot.IsActive {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "parking lot not found"})
	}
	return c.JSON(http.StatusOK, lot)
}

func (h *LotHandler) Create(c echo.Context) error {
	vendorID, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	var req createLotReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	lot := &model.ParkingLot{
		VendorID:     vendorID,
		Name:         req.Name,
		Description:  req.Description,
		Address:      req.Address,
		Location:     req.Location,
		HourlyCharge: req.HourlyCharge,
		LateFee:      req.LateFee,
		Terms:        req.Terms,
		TotalSpaces:  req.TotalSpaces,
		IsActive:     true,
	}
	if err := h.Lots.Create(c.Request().Context(), lot); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, lot)
}

// ListMine returns the caller's lots, inactive ones included.
func (h *LotHandler) ListMine(c echo.Context) error {
	vendorID, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	lots, err := h.Lots.ListByVendor(c.Request().Context(), vendorID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": lots})
}

func (h *LotHandler) Update(c echo.Context) error {
	vendorID, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	var patch repository.LotPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid body")
	}
	lot, err := h.Lots.Update(c.Request().Context(), c.Param("id"), vendorID, patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, lot)
}

// owned resolves the :id lot and checks the caller owns it.
func (h *LotHandler) owned(c echo.Context) (*model.ParkingLot, error) {
	vendorID, err := userID(c)
	if err != nil {
		return nil, err
	}
	return h.Lots.GetOwned(c.Request().Context(), c.Param("id"), vendorID)
}

// Resize changes the number of spaces of an owned lot.
func (h *LotHandler) Resize(c echo.Context) error {
	lot, err := h.owned(c)
	if err != nil {
		return fail(c, err)
	}
	var req capacityReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	updated, err := h.Ledger.Resize(c.Request().Context(), lot.ID, req.TotalSpaces)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *LotHandler) Audit(c echo.Context) error {
	lot, err := h.owned(c)
	if err != nil {
		return fail(c, err)
	}
	rep, err := h.Ledger.Audit(c.Request().Context(), lot.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *LotHandler) Reconcile(c echo.Context) error {
	lot, err := h.owned(c)
	if err != nil {
		return fail(c, err)
	}
	rep, err := h.Ledger.Reconcile(c.Request().Context(), lot.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Bookings lists the bookings of an owned lot, newest first.
func (h *LotHandler) Bookings(c echo.Context) error {
	lot, err := h.owned(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.BookingRepo.ListByLot(c.Request().Context(), lot.ID, limitParam(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
