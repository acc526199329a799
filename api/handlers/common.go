package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// Response is the unified JSON envelope for non-streaming endpoints.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo is the serialized error body.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes an error envelope with the status the error carries.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var domainErr *types.Error
	if !errors.As(err, &domainErr) {
		domainErr = types.NewError(types.ErrInternal, err.Error())
	}
	status := domainErr.HTTPStatus
	if status == 0 {
		status = statusForCode(domainErr.Code)
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(domainErr.Code)),
			zap.String("message", domainErr.Message),
			zap.Int("status", status),
			zap.Bool("retryable", domainErr.Retryable))
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(domainErr.Code),
			Message:   domainErr.Message,
			Retryable: domainErr.Retryable,
		},
		Timestamp: time.Now(),
	})
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrConcurrencyConflict:
		return http.StatusConflict
	case types.ErrUpstreamUnavailable:
		return http.StatusBadGateway
	case types.ErrStateInconsistency:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes a JSON request body, writing a validation error on
// failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		err := types.NewError(types.ErrValidation, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, err, logger)
		return err
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		verr := types.NewError(types.ErrValidation, "invalid JSON body").WithCause(err)
		WriteError(w, verr, logger)
		return verr
	}
	return nil
}
