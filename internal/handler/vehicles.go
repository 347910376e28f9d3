package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

type VehicleHandler struct {
	Vehicles *repository.VehicleRepo
}

func NewVehicleHandler(v *repository.VehicleRepo) *VehicleHandler {
	return &VehicleHandler{Vehicles: v}
}

type vehicleReq struct {
	VehicleNumber string      `json:"vehicleNumber"`
	Model         string      `json:"model"`
	Manufacturer  null.String `json:"manufacturer"`
	Color         null.String `json:"color"`
}

func (h *VehicleHandler) Register(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	var req vehicleReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	v := &model.Vehicle{
		UserID:        uid,
		VehicleNumber: req.VehicleNumber,
		Model:         req.Model,
		Manufacturer:  req.Manufacturer,
		Color:         req.Color,
	}
	if err := h.Vehicles.Register(c.Request().Context(), v); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *VehicleHandler) List(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Vehicles.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *VehicleHandler) Active(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	v, err := h.Vehicles.Active(c.Request().Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Activate makes :id the caller's active vehicle.
func (h *VehicleHandler) Activate(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	ctx := c.Request().Context()
	if err := h.Vehicles.SetActive(ctx, uid, c.Param("id")); err != nil {
		return fail(c, err)
	}
	v, err := h.Vehicles.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}
