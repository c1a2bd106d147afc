package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/rzbill/evstore/internal/eventstore"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeStatusJSON(w, status, errorResp{Error: message})
}

// writeJSON writes a 200 JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	writeStatusJSON(w, http.StatusOK, data)
}

func writeStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody decodes and validates a JSON body. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return err
		}
	}
	return validate.Struct(dst)
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// errorStatus maps store errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, eventstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, eventstore.ErrConcurrencyConflict),
		errors.Is(err, eventstore.ErrStreamArchived):
		return http.StatusConflict
	case errors.Is(err, eventstore.ErrTenantRequired),
		errors.Is(err, eventstore.ErrStreamKeyRequired),
		errors.Is(err, eventstore.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, eventstore.ErrTenantNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, eventstore.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError writes err with its mapped status. Server-side failures
// are logged and their detail withheld.
func writeStoreError(w http.ResponseWriter, logger logpkg.Logger, err error) {
	status := errorStatus(err)
	var ce *eventstore.ConflictError
	if errors.As(err, &ce) {
		writeStatusJSON(w, status, conflictResp{
			Error:    eventstore.ErrConcurrencyConflict.Error(),
			Expected: int64(ce.Expected),
			Actual:   ce.Actual,
		})
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", logpkg.Int("status", status), logpkg.Err(err))
		if status == http.StatusServiceUnavailable {
			writeError(w, status, eventstore.ErrStorageUnavailable.Error())
			return
		}
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
