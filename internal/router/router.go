package router // router wires handlers and middleware onto echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/handler"
	"github.com/iliyamo/parking-reservation/internal/middleware"
)

// Deps is everything the routes need.  RateLimit and Cache may be nil.
type Deps struct {
	Auth     *handler.AuthHandler
	Lots     *handler.LotHandler
	Vehicles *handler.VehicleHandler
	Bookings *handler.BookingHandler
	Payments *handler.PaymentHandler

	Authenticator middleware.Authenticator
	Live          http.Handler

	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

func (d Deps) limit() []echo.MiddlewareFunc {
	if d.RateLimit == nil {
		return nil
	}
	return []echo.MiddlewareFunc{d.RateLimit}
}

func (d Deps) cache() []echo.MiddlewareFunc {
	if d.Cache == nil {
		return nil
	}
	return []echo.MiddlewareFunc{d.Cache}
}

// Register mounts every route.  Each protected area gets its own prefix
// so group middleware never leaks between areas.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	RegisterAuth(e, d)
	RegisterPublic(e, d)
	RegisterCustomer(e, d)
	RegisterVendor(e, d)
}

// RegisterAuth mounts sign-up, sign-in, refresh and sign-out, plus the
// authenticated /v1/me endpoints.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth")
	g.POST("/register", d.Auth.Register, d.limit()...)
	g.POST("/login", d.Auth.Login, d.limit()...)
	g.POST("/refresh", d.Auth.Refresh, d.limit()...)
	g.POST("/logout", d.Auth.Logout)

	me := e.Group("/v1/me", middleware.JWTAuth(d.Authenticator))
	me.GET("", d.Auth.Me)
	me.PATCH("", d.Auth.UpdateMe)
	me.POST("/logout-all", d.Auth.LogoutAll)
}

// RegisterPublic mounts lot browsing and the live availability feed.
func RegisterPublic(e *echo.Echo, d Deps) {
	g := e.Group("/v1/lots")
	g.GET("", d.Lots.List, d.cache()...)
	g.GET("/live", echo.WrapHandler(d.Live))
	g.GET("/:id", d.Lots.Get, d.cache()...)
}
