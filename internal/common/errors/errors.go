// Package errors provides the chatbot's error taxonomy and its mapping onto
// retry policy and workflow errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Extraction
const (
	ErrCodeMissingSlot ErrorCode = "EXTRACTION_MISSING_SLOT"
)

// Tracking system API. Exactly one per failure kind returned by the gateway.
const (
	ErrCodeAPIUnauthorized ErrorCode = "API_UNAUTHORIZED"
	ErrCodeAPINotFound     ErrorCode = "API_NOT_FOUND"
	ErrCodeAPIRateLimited  ErrorCode = "API_RATE_LIMITED"
	ErrCodeAPITimeout      ErrorCode = "API_TIMEOUT"
	ErrCodeAPIServerError  ErrorCode = "API_SERVER_ERROR"
	ErrCodeAPIUnreachable  ErrorCode = "API_UNREACHABLE"
	ErrCodeAPIRejected     ErrorCode = "API_REJECTED"
)

// Soft-fail tiers
const (
	ErrCodeSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE"
	ErrCodeGenerationFailed  ErrorCode = "GENERATION_FAILED"
	ErrCodeGenerationTimeout ErrorCode = "GENERATION_TIMEOUT"
)

// Request level
const (
	ErrCodeInvalidRequest ErrorCode = "INVALID_CHAT_REQUEST"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches another *StandardError by code so callers can write
// errors.Is(err, &StandardError{Code: ErrCodeAPITimeout}).
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Code == e.Code
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewMissingSlotError reports a required parameter the user did not supply.
func NewMissingSlotError(operation, slot string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingSlot,
		Message:   fmt.Sprintf("missing required value %q", slot),
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: false,
		Metadata:  map[string]interface{}{"slot": slot, "operation": operation},
		Timestamp: time.Now().UTC(),
	}
}

// NewAPIError wraps a tracking system failure under the code for its kind.
func NewAPIError(code ErrorCode, operation string, status int, err error) *StandardError {
	details := fmt.Sprintf("operation: %s", operation)
	if err != nil {
		details = fmt.Sprintf("operation: %s, error: %s", operation, err.Error())
	}
	return &StandardError{
		Code:      code,
		Message:   "Tracking system request failed",
		Details:   details,
		Retryable: GetRetryCount(code) > 0,
		Metadata:  map[string]interface{}{"operation": operation, "status": status},
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchUnavailableError is logged when documentation search soft-fails.
func NewSearchUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchUnavailable,
		Message:   "Documentation search unavailable",
		Details:   errString(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationFailedError is logged when the model backend cannot answer.
func NewGenerationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationFailed,
		Message:   "Text generation failed",
		Details:   errString(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationTimeoutError is logged when the model backend exceeds its deadline.
func NewGenerationTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationTimeout,
		Message:   "Text generation timed out",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRequestError is a non-retryable input error.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "Invalid chat request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Retry Policy & BPMN Conversion
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeMissingSlot:       "MISSING_PARAMETER",
	ErrCodeAPIUnauthorized:   "TRACKER_UNAUTHORIZED",
	ErrCodeAPINotFound:       "TRACKER_NOT_FOUND",
	ErrCodeAPIRateLimited:    "TRACKER_RATE_LIMITED",
	ErrCodeAPITimeout:        "TRACKER_TIMEOUT",
	ErrCodeAPIServerError:    "TRACKER_SERVER_ERROR",
	ErrCodeAPIUnreachable:    "TRACKER_UNREACHABLE",
	ErrCodeAPIRejected:       "TRACKER_REJECTED",
	ErrCodeSearchUnavailable: "SEARCH_UNAVAILABLE",
	ErrCodeGenerationFailed:  "GENERATION_FAILED",
	ErrCodeGenerationTimeout: "GENERATION_TIMEOUT",
	ErrCodeInvalidRequest:    "INVALID_CHAT_REQUEST",
}

// GetRetryCount returns how many additional attempts a failure earns.
// Only transient tracker failures are retried, and only once.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeAPIRateLimited,
		ErrCodeAPITimeout:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// CodeOf extracts the code of the first StandardError in err's chain.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "EXTRACTION"):
		return "USER_INPUT"
	case strings.HasPrefix(codeStr, "API_"):
		return "TRACKER"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "GENERATION"):
		return "AI"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
