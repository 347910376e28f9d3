package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// RegisterVendor mounts lot management for the vendor role.
func RegisterVendor(e *echo.Echo, d Deps) {
	g := e.Group("/v1/vendor",
		middleware.JWTAuth(d.Authenticator),
		middleware.RequireRole(model.RoleVendor),
	)
	g.POST("/lots", d.Lots.Create, d.limit()...)
	g.GET("/lots", d.Lots.ListMine)
	g.PATCH("/lots/:id", d.Lots.Update)
	g.PUT("/lots/:id/capacity", d.Lots.Resize, d.limit()...)
	g.GET("/lots/:id/audit", d.Lots.Audit)
	g.POST("/lots/:id/reconcile", d.Lots.Reconcile)
	g.GET("/lots/:id/bookings", d.Lots.Bookings)

	g.PATCH("/payments/:id", d.Payments.Settle)
}
