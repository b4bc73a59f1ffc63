// Package errors writes JSON error responses and logs the underlying cause
// with the request ID, keeping internals out of client-facing messages.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// JSON writes payload with the given status. Encoding failures are ignored;
// the status line has already gone out.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes a JSON error body with the given client-facing message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Internal logs the actual error with the request ID and returns a generic
// 500 to the client.
func Internal(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error, message string) {
	log.WithField("request_id", middleware.GetReqID(r.Context())).WithError(err).Error(message)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest logs the rejected input and returns the client message as a 400.
func BadRequest(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error, clientMessage string) {
	log.WithField("request_id", middleware.GetReqID(r.Context())).WithError(err).Warn("bad request")
	Error(w, http.StatusBadRequest, clientMessage)
}
