package middleware // middleware holds the echo middleware shared by the route groups

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/parking-reservation/internal/identity"
    "github.com/iliyamo/parking-reservation/internal/utils"
)

// Authenticator verifies a raw access token.
type Authenticator interface {
    Authenticate(raw string) (utils.Claims, error)
}

// JWTAuth rejects requests without a valid Bearer access token.  On
// success the user id and role are stored under "user_id" and "role" and
// the claims are attached to the request context for identity.CurrentUserID.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            header := c.Request().Header.Get(echo.HeaderAuthorization)
            raw, ok := strings.CutPrefix(header, "Bearer ")
            if !ok || strings.TrimSpace(raw) == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            claims, err := auth.Authenticate(strings.TrimSpace(raw))
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set("user_id", claims.UserID)
            c.Set("role", claims.Role)
            req := c.Request()
            c.SetRequest(req.WithContext(identity.WithClaims(req.Context(), claims)))
            return next(c)
        }
    }
}
