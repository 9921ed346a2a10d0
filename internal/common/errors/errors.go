// Package errors provides standardized error handling for the query pipeline
// and its BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Pipeline faults: fatal to a single request, never retried.
	ErrCodePipelineFault      ErrorCode = "PIPELINE_FAULT"
	ErrCodeStageTimeout       ErrorCode = "STAGE_TIMEOUT"
	ErrCodeCacheCorruption    ErrorCode = "CACHE_CORRUPTION"
	ErrCodeIllegalTransition  ErrorCode = "ILLEGAL_STATE_TRANSITION"
	ErrCodeInvalidBuildResult ErrorCode = "INVALID_BUILD_RESULT"

	// Connector failures: absorbed into source reports.
	ErrCodeConnectorTimeout       ErrorCode = "CONNECTOR_TIMEOUT"
	ErrCodeConnectorRateLimited   ErrorCode = "CONNECTOR_RATE_LIMITED"
	ErrCodeConnectorUpstreamError ErrorCode = "CONNECTOR_UPSTREAM_ERROR"
	ErrCodeConnectorParseError    ErrorCode = "CONNECTOR_PARSE_ERROR"

	ErrCodeInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeExternalService          ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout                  ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
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

// WithMetadata returns the error with the key recorded in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
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

// NewPipelineFaultError wraps an internal invariant violation.
func NewPipelineFaultError(stage string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePipelineFault,
		Message:   "Pipeline invariant violated",
		Details:   fmt.Sprintf("stage: %s, error: %v", stage, err),
		Retryable: false,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
	}
}

// NewStageTimeoutError reports a stage that ran past its deadline.
func NewStageTimeoutError(stage string, timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageTimeout,
		Message:   "Pipeline stage timed out",
		Details:   fmt.Sprintf("stage: %s, timeout: %s", stage, timeout),
		Retryable: false,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheCorruptionError reports an unreadable cache entry.
func NewCacheCorruptionError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheCorruption,
		Message:   "Cache entry could not be decoded",
		Details:   fmt.Sprintf("key: %s, error: %v", key, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewIllegalTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalTransition,
		Message:   "Illegal pipeline state transition",
		Details:   fmt.Sprintf("%s -> %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidBuildResultError(got interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidBuildResult,
		Message:   "Query builder returned an unknown outcome",
		Details:   fmt.Sprintf("type: %T", got),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConnectorError creates a connector failure record for the given kind.
// Timeouts and upstream errors are retryable on a later request.
func NewConnectorError(source string, code ErrorCode, err error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   fmt.Sprintf("Source '%s' failed", source),
		Details:   err.Error(),
		Retryable: code == ErrCodeConnectorTimeout || code == ErrCodeConnectorUpstreamError,
		Metadata:  map[string]interface{}{"source": source},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError creates a non-retryable validation error.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid job input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. BPMN Mapping
// ==========================

// BPMNErrorMapping maps internal codes to the codes modelled in the BPMN diagrams.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodePipelineFault:      "PIPELINE_FAULT",
	ErrCodeStageTimeout:       "PIPELINE_FAULT",
	ErrCodeCacheCorruption:    "PIPELINE_FAULT",
	ErrCodeIllegalTransition:  "PIPELINE_FAULT",
	ErrCodeInvalidBuildResult: "PIPELINE_FAULT",
	ErrCodeInvalidInput:       "INVALID_INPUT",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeExternalService,
		ErrCodeConnectorUpstreamError:
		return 3

	case ErrCodeTimeout,
		ErrCodeConnectorTimeout:
		return 2

	case ErrCodeConnectorRateLimited:
		return 1

	default:
		// Pipeline faults and validation errors are never retried.
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

// IsPipelineFault reports whether the code is fatal to a single request.
func IsPipelineFault(code ErrorCode) bool {
	return BPMNErrorMapping[code] == "PIPELINE_FAULT"
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case IsPipelineFault(code):
		return "PIPELINE"
	case strings.HasPrefix(codeStr, "CONNECTOR"):
		return "SOURCE"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
