package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/loadengine/internal/batch"
	"github.com/JonMunkholm/loadengine/internal/core"
	"github.com/JonMunkholm/loadengine/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
// Code is machine-readable; Message and Action are for people.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// respondError logs err with request context and writes its user-facing form.
// A zero status is derived from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	writeJSON(w, r, status, ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: requestID,
	})
}

// statusFor maps engine and decoding errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunInProgress):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrSchemaViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, batch.ErrEmptyFile), core.MapError(err).Code == "FILE002":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
