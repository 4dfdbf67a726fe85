package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"budgetbook/internal/core"
	applog "budgetbook/internal/log"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps typed errors to status codes: validation 422, not found
// 404, anything else 500 with the detail kept out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		logger.DebugContext(ctx, "Request rejected", applog.FieldErrorType, applog.ErrorTypeValidation, applog.FieldError, err)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, core.ErrValidation):
		logger.DebugContext(ctx, "Request rejected", applog.FieldErrorType, applog.ErrorTypeValidation, applog.FieldError, err)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		logger.DebugContext(ctx, "Request rejected", applog.FieldErrorType, applog.ErrorTypeNotFound, applog.FieldError, err)
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		errType := applog.ErrorTypeInternal
		if errors.Is(err, core.ErrStorage) {
			errType = applog.ErrorTypeDatabase
		}
		logger.ErrorContext(ctx, "Request failed",
			applog.FieldPath, r.URL.Path, applog.FieldErrorType, errType, applog.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// decodeJSON reads one JSON object from the body into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// parseDate accepts a calendar date (2006-01-02), read as midnight UTC, or
// an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, core.NewValidationError("date", "Date is required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, core.NewValidationError("date", "invalid date "+s)
	}
	return t, nil
}

// sanitizeInput trims s and drops control characters other than tab and
// newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
