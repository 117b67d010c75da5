// Package errors provides the standardized error taxonomy shared by the engines,
// the external clients and the BPMN trigger workers.
package errors

import (
	stderrors "errors"
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
	// Transient external failures
	ErrCodeScraperFetchFailed   ErrorCode = "SCRAPER_FETCH_FAILED"
	ErrCodeScraperTimeout       ErrorCode = "SCRAPER_TIMEOUT"
	ErrCodeExtractionFailed     ErrorCode = "EXTRACTION_FAILED"
	ErrCodeExtractionTimeout    ErrorCode = "EXTRACTION_TIMEOUT"
	ErrCodeDeliveryFailed       ErrorCode = "DELIVERY_FAILED"
	ErrCodeDeliveryTimeout      ErrorCode = "DELIVERY_TIMEOUT"
	ErrCodeSearchIndexFailed    ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeDatabaseQueryFailed  ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeLockUnavailable      ErrorCode = "LOCK_UNAVAILABLE"
	ErrCodePersonalisationError ErrorCode = "PERSONALISATION_FAILED"

	// Malformed external payloads
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// Business rules
	ErrCodeRecipientInactive  ErrorCode = "RECIPIENT_INACTIVE"
	ErrCodeListingNotEligible ErrorCode = "LISTING_NOT_ELIGIBLE"
	ErrCodeJobUnknown         ErrorCode = "JOB_UNKNOWN"
	ErrCodeJobAlreadyRunning  ErrorCode = "JOB_ALREADY_RUNNING"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "RESOURCE_NOT_FOUND"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause so errors.Is works on context errors.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e after attaching a metadata key.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, retryable bool, cause error) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the workflow engine.
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

// ToErrorVariables returns a map suitable for job fail variables.
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

func NewScraperFetchFailedError(group string, err error) *StandardError {
	return newError(ErrCodeScraperFetchFailed, fmt.Sprintf("Scraper fetch failed for group %s", group), true, err).
		WithMetadata("group", group)
}

func NewScraperTimeoutError(group string, err error) *StandardError {
	return newError(ErrCodeScraperTimeout, fmt.Sprintf("Scraper timeout for group %s", group), true, err).
		WithMetadata("group", group)
}

func NewExtractionFailedError(err error) *StandardError {
	return newError(ErrCodeExtractionFailed, "Listing extraction failed", true, err)
}

func NewExtractionTimeoutError(err error) *StandardError {
	return newError(ErrCodeExtractionTimeout, "Listing extraction timed out", true, err)
}

func NewPersonalisationFailedError(err error) *StandardError {
	return newError(ErrCodePersonalisationError, "Alert personalisation failed", true, err)
}

func NewDeliveryFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeDeliveryFailed, fmt.Sprintf("Delivery via %s failed", channel), true, err).
		WithMetadata("channel", channel)
}

func NewDeliveryTimeoutError(channel string, err error) *StandardError {
	return newError(ErrCodeDeliveryTimeout, fmt.Sprintf("Delivery via %s timed out", channel), true, err).
		WithMetadata("channel", channel)
}

func NewSearchIndexFailedError(err error) *StandardError {
	return newError(ErrCodeSearchIndexFailed, "Search index write failed", true, err)
}

func NewDatabaseQueryFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeDatabaseQueryFailed, fmt.Sprintf("Database operation %s failed", operation), true, err).
		WithMetadata("operation", operation)
}

func NewLockUnavailableError(key string, err error) *StandardError {
	return newError(ErrCodeLockUnavailable, "Could not acquire lock", true, err).WithMetadata("key", key)
}

func NewMalformedPayloadError(source string, err error) *StandardError {
	return newError(ErrCodeMalformedPayload, fmt.Sprintf("Malformed payload from %s", source), false, err)
}

func NewRecipientInactiveError(userID string) *StandardError {
	return newError(ErrCodeRecipientInactive, "Recipient does not receive alerts", false, nil).
		WithMetadata("userId", userID)
}

func NewListingNotEligibleError(listingID string) *StandardError {
	return newError(ErrCodeListingNotEligible, "Listing is not valid or not enriched", false, nil).
		WithMetadata("listingId", listingID)
}

func NewJobUnknownError(name string) *StandardError {
	return newError(ErrCodeJobUnknown, fmt.Sprintf("Unknown job %q", name), false, nil)
}

func NewJobAlreadyRunningError(name string) *StandardError {
	return newError(ErrCodeJobAlreadyRunning, fmt.Sprintf("Job %q is already running", name), false, nil)
}

func NewInvalidInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidInput, "Invalid input", false, nil)
	e.Details = details
	return e
}

func NewNotFoundError(resource, id string) *StandardError {
	e := newError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), false, nil)
	e.Details = id
	return e
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeScraperFetchFailed,
		ErrCodeExtractionFailed,
		ErrCodeDeliveryFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeSearchIndexFailed:
		return 3

	case ErrCodeScraperTimeout,
		ErrCodeExtractionTimeout,
		ErrCodeDeliveryTimeout,
		ErrCodeLockUnavailable:
		return 2

	case ErrCodePersonalisationError:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// Normalize always returns a StandardError, wrapping foreign errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return newError("INTERNAL_ERROR", "Unexpected error", false, err)
}

// ==========================
// 5. Utility Functions
// ==========================

// HasCode reports whether any StandardError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if !stderrors.As(err, &stdErr) {
		return false
	}
	return stdErr.Code == code
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if !stderrors.As(err, &stdErr) {
		return false
	}
	return stdErr.Retryable
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "SCRAPER"):
		return "INGESTION"
	case strings.HasPrefix(codeStr, "EXTRACTION") || strings.HasPrefix(codeStr, "PERSONALISATION"):
		return "AI"
	case strings.HasPrefix(codeStr, "DELIVERY") || strings.HasPrefix(codeStr, "RECIPIENT"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "LOCK"):
		return "STORAGE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.HasPrefix(codeStr, "JOB"):
		return "SCHEDULER"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "MALFORMED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
