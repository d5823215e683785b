package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/service"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// statusOf maps a service error to its HTTP status.  Zero means the error
// is unexpected.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInactive), errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrBadCredentials),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenReuse),
		errors.Is(err, service.ErrSessionClosed):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBadRequest),
		errors.Is(err, utils.ErrSignatureExpired),
		errors.Is(err, utils.ErrBadSignature),
		errors.Is(err, utils.ErrMalformed),
		errors.Is(err, utils.ErrEmptyPassword):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return 0
}

// ErrorHandler renders every error that reaches echo as {"error": msg}.
// Known errors keep their message; anything else is logged and hidden
// behind a 500.
func ErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	log = logger.Resolve(log)
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, msg := http.StatusInternalServerError, "internal error"
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(he.Code)
			}
		case statusOf(err) != 0:
			status, msg = statusOf(err), err.Error()
		default:
			log.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"error", err.Error())
		}
		if status == http.StatusServiceUnavailable {
			msg = "service unavailable"
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, echo.Map{"error": msg})
		}
		if werr != nil {
			log.Error("write error response", "error", werr.Error())
		}
	}
}
