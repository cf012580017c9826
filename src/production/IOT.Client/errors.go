package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a string type for consistent error codes.
type ErrorCode string

const (
	// Session
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeNotAuthenticated ErrorCode = "not_authenticated"
	ErrorCodeForbidden        ErrorCode = "forbidden"

	// Resource and input
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeValidationFailed ErrorCode = "validation_failed"
	ErrorCodeRejected         ErrorCode = "rejected"

	// Backend and transport
	ErrorCodeServerError       ErrorCode = "server_error"
	ErrorCodeTransport         ErrorCode = "transport"
	ErrorCodeMalformedResponse ErrorCode = "malformed_response"
)

// APIError is returned by every Client operation that fails
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches any APIError with the same code, so callers can write
// errors.Is(err, client.ErrNotFound).
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthorized      = &APIError{Code: ErrorCodeUnauthorized, Message: "session rejected by backend", StatusCode: http.StatusUnauthorized}
	ErrNotAuthenticated  = &APIError{Code: ErrorCodeNotAuthenticated, Message: "no active session"}
	ErrForbidden         = &APIError{Code: ErrorCodeForbidden, Message: "forbidden", StatusCode: http.StatusForbidden}
	ErrNotFound          = &APIError{Code: ErrorCodeNotFound, Message: "not found", StatusCode: http.StatusNotFound}
	ErrValidation        = &APIError{Code: ErrorCodeValidationFailed, Message: "validation failed"}
	ErrRejected          = &APIError{Code: ErrorCodeRejected, Message: "request rejected"}
	ErrServer            = &APIError{Code: ErrorCodeServerError, Message: "backend error"}
	ErrTransport         = &APIError{Code: ErrorCodeTransport, Message: "backend unreachable"}
	ErrMalformedResponse = &APIError{Code: ErrorCodeMalformedResponse, Message: "malformed backend response"}
)

// NewAPIError is a constructor for APIError.
func NewAPIError(code ErrorCode, message string, details any, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

func transportError(err error) *APIError {
	return &APIError{Code: ErrorCodeTransport, Message: "backend request failed", Err: err}
}

func malformed(what string, err error) *APIError {
	return &APIError{Code: ErrorCodeMalformedResponse, Message: "malformed " + what, Err: err}
}

func validationError(err error) *APIError {
	return &APIError{Code: ErrorCodeValidationFailed, Message: err.Error(), StatusCode: http.StatusUnprocessableEntity}
}

// CodeForStatus maps a non-2xx HTTP status to an ErrorCode
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorCodeUnauthorized
	case status == http.StatusForbidden:
		return ErrorCodeForbidden
	case status == http.StatusNotFound:
		return ErrorCodeNotFound
	case status == http.StatusBadRequest, status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return ErrorCodeValidationFailed
	case status >= 500:
		return ErrorCodeServerError
	default:
		return ErrorCodeRejected
	}
}

// errorFromResponse builds an APIError from a non-2xx response, taking the
// message from the body's "error" or "message" field when there is one.
func errorFromResponse(status int, body []byte) *APIError {
	apiErr := &APIError{
		Code:       CodeForStatus(status),
		Message:    http.StatusText(status),
		StatusCode: status,
	}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Details any    `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error != "":
			apiErr.Message = parsed.Error
		case parsed.Message != "":
			apiErr.Message = parsed.Message
		}
		apiErr.Details = parsed.Details
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 {
		apiErr.Message = text
	}
	return apiErr
}
