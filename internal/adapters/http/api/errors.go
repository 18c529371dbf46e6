package api

import (
	"errors"
	"net/http"

	"github.com/okian/repute/internal/adapters/repository"
	"github.com/okian/repute/internal/domain/recompute"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// classify maps an error from the service to a status and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, recompute.ErrInvalidTrigger):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBackpressure), errors.Is(err, recompute.ErrSchedulingFailure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, repository.ErrEventStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError writes err with the status classify picks for it.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	writeError(w, r, status, code, err)
}
