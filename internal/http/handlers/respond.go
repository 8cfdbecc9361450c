package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

// ErrorWriter is the single place error bodies are rendered.
type ErrorWriter struct {
	logger      *logging.Logger
	development bool
}

func NewErrorWriter(logger *logging.Logger, development bool) *ErrorWriter {
	if logger == nil {
		logger = logging.Default()
	}
	return &ErrorWriter{logger: logger, development: development}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// WriteError maps err onto its status code and the standard error envelope.
// Messages of unexpected errors are hidden outside development.
func (e *ErrorWriter) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.StatusCode(err)
	message := err.Error()
	if appErr, ok := apperrors.As(err); ok && appErr.Message != "" {
		message = appErr.Message
	}

	if apperrors.IsOperational(err) {
		e.logger.Warn("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"kind", kind.String(),
			"error", err,
		)
	} else {
		e.logger.Error("unexpected error",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"operational", false,
			"error", err,
		)
		if !e.development {
			message = "internal server error"
		}
	}

	writeJSON(w, status, errorResponse{
		Success: false,
		Error:   errorBody{Kind: kind.String(), Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperrors.Validation("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Validation("invalid JSON body: %v", err)
	}
	return nil
}
