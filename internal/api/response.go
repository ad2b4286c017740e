package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/statekit/internal/document"
	"github.com/dmitrymomot/statekit/pkg/logger"
	"github.com/dmitrymomot/statekit/pkg/transition"
)

// response is the JSON envelope of every reply.
type response struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

var errBadRequest = errors.New("invalid request body")

// httpError pairs a status code with a stable error code.
type httpError struct {
	status int
	code   string
}

var (
	errNotFound          = httpError{http.StatusNotFound, "not_found"}
	errUnknownTransition = httpError{http.StatusNotFound, "unknown_transition"}
	errInvalidState      = httpError{http.StatusConflict, "invalid_state"}
	errValidation        = httpError{http.StatusUnprocessableEntity, "validation_failed"}
	errMalformed         = httpError{http.StatusBadRequest, "bad_request"}
	errUnknownField      = httpError{http.StatusBadRequest, "unknown_status_field"}
	errBusy              = httpError{http.StatusServiceUnavailable, "lock_timeout"}
	errInternal          = httpError{http.StatusInternalServerError, "internal_error"}
)

func classify(err error) httpError {
	switch {
	case errors.Is(err, errBadRequest):
		return errMalformed
	case transition.IsInvalidStateError(err):
		return errInvalidState
	case transition.IsUnknownTransitionError(err):
		return errUnknownTransition
	case errors.Is(err, document.ErrNotFound):
		return errNotFound
	case errors.Is(err, document.ErrTitleRequired):
		return errValidation
	case errors.Is(err, transition.ErrUnknownField):
		return errUnknownField
	case errors.Is(err, transition.ErrLockTimeout):
		return errBusy
	}
	return errInternal
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	he := classify(err)
	detail := &errorDetail{Code: he.code, Message: err.Error()}

	var stateErr *transition.InvalidStateError
	if errors.As(err, &stateErr) {
		detail.Details = map[string][]string{
			"current_state":   {stateErr.Current},
			"expected_states": stateErr.Expected,
		}
	}

	if he.status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
		detail.Message = http.StatusText(he.status)
	}
	writeJSON(w, he.status, response{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
