package models

import "fmt"

type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryExternal   ErrorCategory = "external"
	ErrorCategoryInternal   ErrorCategory = "internal"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryNotFound   ErrorCategory = "not_found"
	ErrorCategoryConflict   ErrorCategory = "conflict"
)

// AppError is the typed error carried across service boundaries. Item-level
// failures wrap into one of these and are recorded on the run, never bubbled
// up to abort a whole run unless the failure is structural.
type AppError struct {
	Code     string
	Message  string
	Category ErrorCategory
	Cause    error
	Metadata map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy carrying the underlying error.
func (e *AppError) WithCause(cause error) *AppError {
	clone := e.clone()
	clone.Cause = cause
	return clone
}

// WithMetadata returns a copy with one more metadata entry attached.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	clone := e.clone()
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]interface{})
	}
	clone.Metadata[key] = value
	return clone
}

func (e *AppError) clone() *AppError {
	metadata := make(map[string]interface{}, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	return &AppError{
		Code:     e.Code,
		Message:  e.Message,
		Category: e.Category,
		Cause:    e.Cause,
		Metadata: metadata,
	}
}

func newError(category ErrorCategory, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Category: category}
}

func NewValidationError(code, message string) *AppError {
	return newError(ErrorCategoryValidation, code, message)
}

func NewExternalError(code, message string) *AppError {
	return newError(ErrorCategoryExternal, code, message)
}

func NewInternalError(code, message string) *AppError {
	return newError(ErrorCategoryInternal, code, message)
}

func NewTimeoutError(code, message string) *AppError {
	return newError(ErrorCategoryTimeout, code, message)
}

func NewNotFoundError(code, message string) *AppError {
	return newError(ErrorCategoryNotFound, code, message)
}

var (
	ErrOpportunityNotFound = NewNotFoundError("OPPORTUNITY_NOT_FOUND", "Opportunity not found")
	ErrUserNotFound        = NewNotFoundError("USER_NOT_FOUND", "User profile not found")
	ErrRunInProgress       = newError(ErrorCategoryConflict, "RUN_IN_PROGRESS", "Agent run already in progress")

	ErrSourceUnavailable          = NewExternalError("SOURCE_UNAVAILABLE", "Source adapter fetch failed")
	ErrMalformedPosting           = NewValidationError("MALFORMED_POSTING", "Raw posting could not be parsed")
	ErrClassificationAmbiguous    = NewValidationError("CLASSIFICATION_AMBIGUOUS", "No classification rule or similarity match fired")
	ErrScoreComputationFailed     = NewInternalError("SCORE_COMPUTATION_FAILED", "Relevance score could not be computed")
	ErrNotificationDeliveryFailed = NewExternalError("NOTIFICATION_DELIVERY_FAILED", "Notifier delivery call failed")
	ErrConcurrentWriteConflict    = newError(ErrorCategoryConflict, "CONCURRENT_WRITE_CONFLICT", "Concurrent writers touched the same key")
)
