package middleware

import "github.com/labstack/echo/v4"

// currentUserID returns the authenticated user id, or "anon" on public
// routes.  Used for rate limit keys.
func currentUserID(c echo.Context) string {
    if s, ok := c.Get("user_id").(string); ok && s != "" {
        return s
    }
    return "anon"
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
