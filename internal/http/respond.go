package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/umbrellafw/umbrella/internal/publish"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/internal/service/ingest"
	"github.com/umbrellafw/umbrella/internal/service/organization"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service and store errors onto HTTP statuses.
// Unknown errors are logged and reported without detail.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var conflict *organization.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.Is(err, organization.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, organization.ErrInvalidArgument),
		errors.Is(err, ingest.ErrInvalidEventType),
		errors.Is(err, errInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, publish.ErrRateLimited):
		retry := publish.RetryAfter(err)
		if retry < time.Second {
			retry = time.Second
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	default:
		r.logger.ErrorContext(req.Context(), "request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
