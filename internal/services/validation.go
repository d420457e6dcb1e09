package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// WriteServiceError maps a service error to its HTTP status and a stable
// message. Infrastructure errors are reported generically; store error
// text is never sent to the client.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrTransactionNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, models.ErrDuplicateAccount),
		errors.Is(err, models.ErrNotPending):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrSessionExpired),
		errors.Is(err, models.ErrInvalidSession):
		SendErrorResponse(w, err.Error(), http.StatusUnauthorized, nil)
	case errors.Is(err, models.ErrAccountInactive),
		errors.Is(err, models.ErrDeviceNotRegistered),
		errors.Is(err, models.ErrDeviceNotVerified):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrInvalidTransfer),
		errors.Is(err, models.ErrInvalidAmount):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
	}
}
