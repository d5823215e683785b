package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything Health can check: *sql.DB, a redis client wrapper.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Health reports "ok" while every required dependency answers a ping.
// Optional dependencies only show up as degraded.
type Health struct {
	Required map[string]Pinger
	Optional map[string]Pinger
}

func (h *Health) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := map[string]string{}
	for name, p := range h.Required {
		if err := p.PingContext(ctx); err != nil {
			checks[name] = "down"
			status, code = "down", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	for name, p := range h.Optional {
		if err := p.PingContext(ctx); err != nil {
			checks[name] = "degraded"
			if code == http.StatusOK {
				status = "degraded"
			}
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(code, echo.Map{"status": status, "checks": checks})
}
