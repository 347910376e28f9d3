package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

type PaymentHandler struct {
	Payments *repository.PaymentRepo
}

func NewPaymentHandler(p *repository.PaymentRepo) *PaymentHandler {
	return &PaymentHandler{Payments: p}
}

type settleReq struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// List returns the caller's payments, newest first.
func (h *PaymentHandler) List(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	items, err := h.Payments.ListByUser(c.Request().Context(), uid, limitParam(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Settle lets the vendor of the booked lot complete or fail a pending
// payment, typically once cash has been collected.
func (h *PaymentHandler) Settle(c echo.Context) error {
	vendorID, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	var req settleReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	next, err := model.ParsePaymentStatus(req.Status)
	if err != nil || next == model.PaymentPending {
		return badRequest(c, "status must be completed or failed")
	}
	p, err := h.Payments.Settle(c.Request().Context(), c.Param("id"), vendorID, next, strings.TrimSpace(req.TransactionID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
