package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError describes one rejected field
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// decodeAndValidate reads a JSON body into dst and validates its struct tags.
// It writes the error response itself and reports whether to continue.
func (rs responder) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		rs.respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid request payload",
			Code:  string(apperrors.CodeValidation),
		})
		return false
	}

	if details := validateStruct(dst); len(details) > 0 {
		rs.respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    string(apperrors.CodeValidation),
			Details: details,
		})
		return false
	}
	return true
}

func validateStruct(s interface{}) []ValidationError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []ValidationError{{Message: err.Error()}}
	}

	details := make([]ValidationError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		details = append(details, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: validationMessage(fe),
		})
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
