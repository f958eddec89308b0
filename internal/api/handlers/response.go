package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error       string            `json:"error"`
	Code        string            `json:"code,omitempty"`
	Compensated *bool             `json:"compensated,omitempty"`
	Details     []ValidationError `json:"details,omitempty"`
}

var statusByType = map[apperrors.ErrorType]int{
	apperrors.ErrorTypeNotFound:     http.StatusNotFound,
	apperrors.ErrorTypeValidation:   http.StatusBadRequest,
	apperrors.ErrorTypeConflict:     http.StatusConflict,
	apperrors.ErrorTypeForbidden:    http.StatusForbidden,
	apperrors.ErrorTypePolicy:       http.StatusUnprocessableEntity,
	apperrors.ErrorTypeUnauthorized: http.StatusUnauthorized,
	apperrors.ErrorTypeExternal:     http.StatusBadGateway,
	apperrors.ErrorTypeInternal:     http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status
func StatusFor(err error) int {
	if appErr, ok := apperrors.As(err); ok {
		if status, ok := statusByType[appErr.Type]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// responder writes JSON responses and logs what cannot be returned to the
// caller through the handler's logger.
type responder struct {
	logger zerolog.Logger
}

func (rs responder) respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rs.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (rs responder) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	rs.respondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondWithAppError writes err using its public code. Internal causes are
// logged, never returned.
func (rs responder) respondWithAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	appErr, ok := apperrors.As(err)
	if !ok {
		rs.logger.Error().Err(err).Msg("unclassified error")
		rs.respondWithJSON(w, status, ErrorResponse{Error: "internal error", Code: string(apperrors.CodeInternal)})
		return
	}

	if status >= http.StatusInternalServerError {
		rs.logger.Error().Err(err).Str("code", string(appErr.Code)).Msg("request failed")
	}
	rs.respondWithJSON(w, status, ErrorResponse{
		Error:       appErr.Message,
		Code:        string(appErr.Code),
		Compensated: appErr.Compensated,
	})
}
