package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CORS sets permissive cross-origin headers and answers every preflight
// request with an empty 200. Register it with Echo#Pre so it runs before routing.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
			h.Set(echo.HeaderAccessControlAllowHeaders, "Content-Type, Accept, Origin, Idempotency-Key, X-Request-ID")
			h.Set(echo.HeaderAccessControlExposeHeaders, "X-Request-ID")
			h.Set(echo.HeaderAccessControlMaxAge, "86400")

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}
