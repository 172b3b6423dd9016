package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidKind  ErrorCode = "validation_invalid_product_kind"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"

	// Not Found (404)
	ErrCodeNotFoundProduct ErrorCode = "not_found_product"

	// Unsupported (501)
	ErrCodeUnsupportedOperation ErrorCode = "unsupported_operation"

	// Internal/Upstream (500/502)
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeConnectionSetup     ErrorCode = "upstream_connection_setup_failed"
	ErrCodeVendorOperation     ErrorCode = "upstream_vendor_operation_failed"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeUnsupportedOperation):
		return http.StatusNotImplemented // 501
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the bridge.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// BillingError carries a vendor BillingResult together with the operation tag
// under which it occurred. It is the error type produced by the vendor
// connector and the connection gate; the dispatcher re-tags it with the
// command name before reporting it on the error channel.
type BillingError struct {
	Op     string
	Result BillingResult
}

// NewBillingError creates a BillingError for the given operation tag and result.
func NewBillingError(op string, result BillingResult) *BillingError {
	return &BillingError{Op: op, Result: result}
}

// Error implements the error interface.
func (e *BillingError) Error() string {
	return fmt.Sprintf("%s: billing response %d: %s", e.Op, e.Result.Code, e.Result.DebugMessage)
}

// WithOp returns a copy of the error tagged with a different operation name.
// The original error is not mutated.
func (e *BillingError) WithOp(op string) *BillingError {
	return &BillingError{Op: op, Result: e.Result}
}

// AppError converts the vendor error into the platform AppError shape,
// preserving the original debug message and response code.
func (e *BillingError) AppError() *AppError {
	code := ErrCodeVendorOperation
	if e.Op == OpConfigure || e.Op == OpConnection {
		code = ErrCodeConnectionSetup
	}
	return NewAppErrorWithDetails(code, e.Result.DebugMessage, e, map[string]any{
		"type": e.Op,
		"code": int(e.Result.Code),
	})
}
