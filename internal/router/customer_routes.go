package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// RegisterCustomer mounts the routes of the user role.
func RegisterCustomer(e *echo.Echo, d Deps) {
	auth := middleware.JWTAuth(d.Authenticator)
	user := middleware.RequireRole(model.RoleUser)

	v := e.Group("/v1/vehicles", auth, user)
	v.POST("", d.Vehicles.Register)
	v.GET("", d.Vehicles.List)
	v.GET("/active", d.Vehicles.Active)
	v.POST("/:id/activate", d.Vehicles.Activate)

	b := e.Group("/v1/bookings", auth, user)
	b.POST("", d.Bookings.Reserve, d.limit()...)
	b.GET("", d.Bookings.List)
	b.GET("/active", d.Bookings.Active)
	b.GET("/:id", d.Bookings.Get)
	b.POST("/:id/complete", d.Bookings.Complete, d.limit()...)
	b.POST("/:id/cancel", d.Bookings.Cancel, d.limit()...)
	b.GET("/:id/receipt", d.Bookings.Receipt)

	p := e.Group("/v1/payments", auth, user)
	p.GET("", d.Payments.List)
}
