package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is an error with the HTTP status it is reported under.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func validationError(field, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Validation Error - %s: %s", field, message),
	}
}

func serverError(message string) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Message: "Server Error: " + message,
	}
}

func abortWithError(c *gin.Context, err *APIError) {
	c.AbortWithStatusJSON(err.Status, ErrorResponse{
		Success:   false,
		Error:     err.Message,
		Code:      err.Status,
		RequestID: c.GetString(requestIDKey),
	})
}
