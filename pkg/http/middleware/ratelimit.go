package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Allower decides whether a caller may spend n tokens.
type Allower interface {
	Allow(key string, n int) bool
}

// RateLimit rejects requests with 429 once the caller, identified by its real IP,
// runs out of tokens. Each request costs one token.
func RateLimit(l Allower) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP(), 1) {
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": http.StatusText(http.StatusTooManyRequests),
				})
			}
			return next(c)
		}
	}
}
