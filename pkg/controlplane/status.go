package controlplane

import (
	"errors"
	"net/http"

	"github.com/WoushouW/woushBOT/pkg/apperr"
)

// Classify maps an operation error to the HTTP status the route layer
// answers with. A nil error is 200.
func Classify(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	}

	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrBridgeTimedOut:
		return http.StatusGatewayTimeout
	case apperr.ErrExecution:
		return http.StatusBadGateway
	case apperr.ErrExternalStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
