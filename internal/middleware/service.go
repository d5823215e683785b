package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// ServiceTokenHeader carries a signed service id.
const ServiceTokenHeader = "X-Service-Token"

// ServiceAuth marks requests from other platform services.  A valid token
// naming an allow-listed service sets the caller service; a valid token
// from any other service is refused with 403.  A missing or invalid token
// leaves the request to the user guards.
func ServiceAuth(signer *utils.Signer, allow []string, maxAge time.Duration, log *slog.Logger) echo.MiddlewareFunc {
	log = logger.Resolve(log)
	signer = signer.For(utils.PurposeService)
	allowed := make(map[string]bool, len(allow))
	for _, s := range allow {
		allowed[s] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(ServiceTokenHeader)
			if raw == "" {
				return next(c)
			}
			name, err := signer.DecodeID(raw, maxAge)
			if err != nil {
				return next(c)
			}
			if !allowed[name] {
				log.Warn("service not allowed", "service", name, "path", c.Path())
				return c.JSON(http.StatusForbidden, echo.Map{"error": "service not allowed"})
			}
			c.Set(ctxService, name)
			return next(c)
		}
	}
}
