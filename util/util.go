package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a json response for an error during endpoint execution
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success or failure response
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrResponse sends a json response for an error during endpoint execution
func ErrResponse(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// ErrResponseWithMessage sends an error along with a message fit for end users
func ErrResponseWithMessage(c *gin.Context, code int, err error, message string) {
	c.JSON(code, ErrorResponse{Error: err.Error(), Message: message})
}

// HealthCheckHandler returns a handler that reports the service is alive
func HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, SuccessResponse{Success: true})
	}
}

// ToPointer returns a pointer to s
func ToPointer[T any](s T) *T {
	return &s
}
