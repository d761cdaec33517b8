// Package core holds the helpers shared by the transports: typed errors
// returned to MCP and JSON clients, a retrying HTTP client for upstream
// services, argument validation and tool definitions.
package core

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorCode classifies an MCPError.
type ErrorCode string

const (
	// Input errors
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrInvalidLatitude  ErrorCode = "INVALID_LATITUDE"
	ErrInvalidLongitude ErrorCode = "INVALID_LONGITUDE"
	ErrInvalidType      ErrorCode = "INVALID_WORKOUT_TYPE"
	ErrMissingParameter ErrorCode = "MISSING_PARAMETER"

	// State errors
	ErrMapNotReady       ErrorCode = "MAP_NOT_READY"
	ErrNoPendingLocation ErrorCode = "NO_PENDING_LOCATION"
	ErrNotFound          ErrorCode = "NOT_FOUND"

	// Service errors
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"
	ErrNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrStorage            ErrorCode = "STORAGE_ERROR"

	ErrParseError    ErrorCode = "PARSE_ERROR"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// MCPError is the error body returned to tool and API clients.
type MCPError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// Error implements the error interface
func (e MCPError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a new MCPError with the given code and message
func NewError(code ErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    string(code),
		Message: message,
	}
}

// WithField names the offending input.
func (e *MCPError) WithField(field string) *MCPError {
	e.Field = field
	return e
}

// WithGuidance adds guidance information to the error
func (e *MCPError) WithGuidance(guidance string) *MCPError {
	e.Guidance = guidance
	return e
}

// ToMCPResult converts the error to an MCP tool result
func (e *MCPError) ToMCPResult() *mcp.CallToolResult {
	errorJSON, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ERROR: %s - %s", e.Code, e.Message))
	}
	return mcp.NewToolResultError(string(errorJSON))
}

// HTTPStatus maps the error code to a response status for the JSON API.
func (e *MCPError) HTTPStatus() int {
	switch ErrorCode(e.Code) {
	case ErrInvalidInput, ErrInvalidLatitude, ErrInvalidLongitude, ErrInvalidType, ErrMissingParameter, ErrParseError:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrMapNotReady, ErrNoPendingLocation:
		return http.StatusConflict
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable, ErrServiceTimeout, ErrNetworkError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ServiceError creates an error for upstream service failures
func ServiceError(service string, statusCode int, message string) *MCPError {
	var code ErrorCode
	var guidance string

	switch statusCode {
	case http.StatusTooManyRequests:
		code = ErrRateLimit
		guidance = "The service is rate-limited. Please try again in a few moments."
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = ErrServiceTimeout
		guidance = "The request timed out. Please try again."
	case http.StatusNotFound:
		code = ErrNotFound
		guidance = "The upstream resource does not exist."
	default:
		code = ErrServiceUnavailable
		guidance = "The service is temporarily unavailable. Please try again later."
	}

	return NewError(code, fmt.Sprintf("%s service error: %s", service, message)).
		WithGuidance(guidance)
}

// NewValidationError creates an error for rejected input.
func NewValidationError(code ErrorCode, message string) *MCPError {
	return NewError(code, message).
		WithGuidance("Please correct the parameters and try again.")
}
