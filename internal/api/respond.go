package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/errs"
)

// maxBodyBytes bounds request bodies; a sync batch of a few thousand
// thoughts fits comfortably.
const maxBodyBytes = 16 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     bool           `json:"error"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

var validate = validator.New()

// validateStruct runs the validate tags on s and folds failures into one
// validation error.
func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, formatFieldError(fe))
			}
			return errs.Validation("%s", strings.Join(msgs, "; "))
		}
		return errs.Validation("%v", err)
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "dive":
		return fmt.Sprintf("%s contains invalid values", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// decode reads a JSON body into v and validates it. Unknown fields are
// ignored; malformed JSON, including timestamps without a zone, is a
// validation error.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation("request body is required")
		}
		return errs.Validation("invalid request body: %v", err)
	}
	return validateStruct(v)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps err onto a status and an ErrorResponse. Unclassified
// errors are logged and their text is not returned to the client.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind := errs.KindOf(err)
	status := errs.StatusFor(kind)
	resp := ErrorResponse{
		Error:     true,
		Type:      string(kind),
		RequestID: middleware.GetReqID(r.Context()),
	}

	var e *errs.Error
	if errors.As(err, &e) {
		resp.Message = e.Message
		if len(e.Missing) > 0 {
			resp.Details = map[string]any{"missing": e.Missing}
		}
	}
	if kind == errs.KindInternal {
		resp.Message = "An internal error occurred"
		logger.Error("Unhandled error",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
		)
	} else {
		logger.Debug("request failed",
			zap.String("type", resp.Type),
			zap.String("message", resp.Message),
			zap.String("path", r.URL.Path),
		)
	}
	respondJSON(w, status, resp)
}
