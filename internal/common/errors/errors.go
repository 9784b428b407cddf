// internal/common/errors/errors.go
package errors

import (
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	// Caller-correctable business errors.
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeAuthorizationDenied ErrorCode = "AUTHORIZATION_DENIED"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"

	// Concurrency and infrastructure errors.
	ErrCodeTransitionConflict ErrorCode = "TRANSITION_CONFLICT"
	ErrCodeAllocationFailed   ErrorCode = "ALLOCATION_FAILED"
	ErrCodeAuditFailed        ErrorCode = "AUDIT_FAILED"
	ErrCodeNotificationFailed ErrorCode = "NOTIFICATION_FAILED"
	ErrCodeDatabaseFailed     ErrorCode = "DATABASE_FAILED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT_ERROR"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the error shape every permit operation returns. Message is
// safe to show to the caller; Cause is kept for logs only.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches any StandardError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation          = &StandardError{Code: ErrCodeValidationFailed}
	ErrNotFound            = &StandardError{Code: ErrCodeNotFound}
	ErrAuthorization       = &StandardError{Code: ErrCodeAuthorizationDenied}
	ErrInvalidTransition   = &StandardError{Code: ErrCodeInvalidTransition}
	ErrConflict            = &StandardError{Code: ErrCodeTransitionConflict}
	ErrAllocationFailure   = &StandardError{Code: ErrCodeAllocationFailed}
	ErrAuditFailure        = &StandardError{Code: ErrCodeAuditFailed}
	ErrNotificationFailure = &StandardError{Code: ErrCodeNotificationFailed}
	ErrInternal            = &StandardError{Code: ErrCodeInternal}
)

// BPMNError is what a job worker throws back to the process engine.
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

func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Metadata:  map[string]interface{}{"resource": resource, "id": id},
		Timestamp: time.Now().UTC(),
	}
}

func NewAuthorizationError(role, action string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthorizationDenied,
		Message:   "Role not permitted for this action",
		Details:   fmt.Sprintf("role: %s, action: %s", role, action),
		Retryable: false,
		Metadata:  map[string]interface{}{"role": role, "action": action},
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidTransitionError(action, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Action %s is not allowed in status %s", action, status),
		Details:   fmt.Sprintf("action: %s, status: %s", action, status),
		Retryable: false,
		Metadata:  map[string]interface{}{"action": action, "status": status},
		Timestamp: time.Now().UTC(),
	}
}

func NewConflictError(applicationID, expectedStatus string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransitionConflict,
		Message:   "Application was modified concurrently",
		Details:   fmt.Sprintf("applicationId: %s, expectedStatus: %s", applicationID, expectedStatus),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewAllocationFailure(periodKey string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAllocationFailed,
		Message:   "Application number could not be allocated",
		Details:   fmt.Sprintf("period: %s", periodKey),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewAuditFailure(action string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditFailed,
		Message:   "Audit entry could not be recorded",
		Details:   fmt.Sprintf("action: %s", action),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewNotificationFailure(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewDatabaseError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseFailed,
		Message:   "Internal error",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewInternalError hides err from the caller-facing message.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Internal error",
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:    "PERMIT_VALIDATION_FAILED",
	ErrCodeNotFound:            "PERMIT_NOT_FOUND",
	ErrCodeAuthorizationDenied: "PERMIT_AUTHORIZATION_DENIED",
	ErrCodeInvalidTransition:   "PERMIT_INVALID_TRANSITION",
	ErrCodeTransitionConflict:  "PERMIT_TRANSITION_CONFLICT",
	ErrCodeAllocationFailed:    "PERMIT_ALLOCATION_FAILED",
	ErrCodeDatabaseFailed:      "PERMIT_DATABASE_FAILED",
	ErrCodeTimeout:             "PERMIT_TIMEOUT",
	ErrCodeExternalService:     "PERMIT_EXTERNAL_SERVICE_ERROR",
	ErrCodeInternal:            "PERMIT_INTERNAL_ERROR",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseFailed,
		ErrCodeAllocationFailed,
		ErrCodeExternalService,
		ErrCodeInternal:
		return 3
	case ErrCodeTransitionConflict,
		ErrCodeTimeout:
		return 2
	default:
		return 0 // business errors
	}
}

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

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "AUTHORIZATION"):
		return "AUTHORIZATION"
	case strings.Contains(codeStr, "TRANSITION"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "ALLOCATION") || strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "AUDIT") || strings.Contains(codeStr, "NOTIFICATION"):
		return "SIDE_EFFECT"
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "LOOKUP"
	default:
		return "OTHER"
	}
}
