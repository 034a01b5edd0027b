package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTransport    = "TRANSPORT_FAILED"
	ErrCodeJobFailed    = "JOB_FAILED"
	ErrCodeNoData       = "NO_STRUCTURED_DATA"
	ErrCodeNoScreenshot = "SCREENSHOT_NOT_AVAILABLE"
	ErrCodeNoSession    = "SESSION_NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeStorage      = "STORAGE_FAILED"
	ErrCodeCancelled    = "CANCELLED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body for failed materialization requests.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *HarvestError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf extracts the error code from an error chain. Errors outside the
// taxonomy report ErrCodeInternal.
func CodeOf(err error) string {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	return ErrCodeInternal
}
