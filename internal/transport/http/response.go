package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"export-worker-service/internal/repository"
	"export-worker-service/internal/service"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps domain errors onto HTTP codes in one place so handlers
// stay flat.
func writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotRetryable):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoPermission):
		writeErr(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrKindRequired),
		errors.Is(err, service.ErrFormatRequired),
		errors.Is(err, service.ErrOwnerRequired),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrBadFrequency),
		errors.Is(err, service.ErrBadTime):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
