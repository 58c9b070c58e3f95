package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// ErrorBody is the JSON shape of every error response. Detail carries the
// numbers behind budget and quota rejections so callers can program against
// them instead of parsing messages.
type ErrorBody struct {
	Error  string         `json:"error"`
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
}

// httpStatus maps a failure kind onto the HTTP status code it is served as.
func httpStatus(kind fault.Kind) int {
	switch kind {
	case fault.InvalidInput:
		return http.StatusBadRequest
	case fault.AuthError:
		return http.StatusUnauthorized
	case fault.BudgetReject:
		return http.StatusPaymentRequired
	case fault.NotFound:
		return http.StatusNotFound
	case fault.QuotaReject, fault.RateLimit:
		return http.StatusTooManyRequests
	case fault.CircuitOpen, fault.NoAgentAvailable:
		return http.StatusServiceUnavailable
	case fault.UpstreamError:
		return http.StatusBadGateway
	case fault.Timeout:
		return http.StatusGatewayTimeout
	case fault.Cancelled:
		// A deadline expiry reaches us as Timeout; an explicit cancel is the
		// caller's own doing.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// mapFault converts a dispatch-path error into an HTTP error response.
// Fault messages are written for callers; anything else is masked as an
// internal error so transport details never leak into responses.
func mapFault(c *echo.Context, err error) *echo.HTTPError {
	var f *fault.Fault
	if errors.As(err, &f) {
		if f.RetryAfter > 0 {
			secs := int64((f.RetryAfter + time.Second - 1) / time.Second)
			c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		return echo.NewHTTPError(httpStatus(f.Kind), ErrorBody{
			Error:  f.Message,
			Kind:   string(f.Kind),
			Detail: f.Detail,
		})
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	// Unexpected error
	slog.Error("Unexpected dispatch error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{
		Error: "internal server error",
		Kind:  string(fault.Internal),
	})
}
