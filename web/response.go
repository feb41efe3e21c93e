package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/etnz/docket/docketapp"
	"github.com/etnz/docket/logger"
	"github.com/etnz/docket/store"
)

// httpError is an error with an associated HTTP status code and a
// user-facing message.
type httpError struct {
	cause   error
	Code    int
	Message string
}

func (he httpError) Error() string { return he.Message }

func (he httpError) Unwrap() error { return he.cause }

// toHTTPError maps application errors to status codes. msg is the
// user-facing message.
func toHTTPError(err error, msg string) *httpError {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, docketapp.ErrInvalidURL):
		code = http.StatusBadRequest
	case errors.Is(err, docketapp.ErrAuthState):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, docketapp.ErrNotConnected):
		code = http.StatusUnauthorized
	case errors.Is(err, docketapp.ErrNotReady), errors.Is(err, docketapp.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, docketapp.ErrContentTooLarge):
		code = http.StatusRequestEntityTooLarge
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &httpError{cause: err, Code: code, Message: msg}
}

func respondError(w http.ResponseWriter, he *httpError) {
	if he.Code >= http.StatusInternalServerError {
		logger.Sugar.Errorw("request failed", "code", he.Code, "error", he.cause)
	}
	respondJSON(w, he.Code, map[string]string{"error": he.Message})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err != nil {
		logger.Sugar.Errorw("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(response)
}
