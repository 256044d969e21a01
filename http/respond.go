package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"cardiovision/auth"
	"cardiovision/db"
	"cardiovision/ml"
	"cardiovision/pipeline"
	"cardiovision/report"
)

type errorBody struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// requestError is a client mistake detected by a handler.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondError maps domain errors onto status codes. Unexpected errors are
// logged and reported as a generic 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= 500 {
		zap.L().Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	respondJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var (
		validation *ml.ValidationError
		missing    *pipeline.MissingColumnsError
		reqErr     *requestError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorBody{Error: validation.Error(), Details: validation}
	case errors.As(err, &missing):
		return http.StatusBadRequest, errorBody{Error: missing.Error(), Details: map[string][]string{"missing": missing.Columns}}
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, errorBody{Error: reqErr.Error()}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, errorBody{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)}
	case errors.Is(err, ml.ErrInvalidInput),
		errors.Is(err, pipeline.ErrUnsupportedFormat),
		errors.Is(err, pipeline.ErrEmptyFile),
		errors.Is(err, pipeline.ErrMalformedFile),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, auth.ErrUsernameRequired),
		errors.Is(err, db.ErrNameRequired),
		errors.Is(err, report.ErrUnknownFormat):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, errMissingToken):
		return http.StatusUnauthorized, errorBody{Error: err.Error()}
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not found"}
	case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, db.ErrDuplicate):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "request timeout"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal server error"}
	}
}

// decodeJSON reads exactly one JSON document into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return badRequest("request body required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest("request body required")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON document")
	}
	return nil
}
