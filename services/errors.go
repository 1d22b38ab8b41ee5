package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	// ErrorTypeConfiguration covers missing credentials and unknown providers.
	// These fail before any network call is made.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeRateLimit is the local admission refusing a request. The caller
	// decides whether to retry later; the retry executor must not.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeUpstreamRateLimit is the provider signalling quota exhaustion.
	ErrorTypeUpstreamRateLimit ErrorType = "upstream_rate_limit"

	// ErrorTypeUpstream covers generic transport and 5xx failures.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeParsing covers malformed JSON, often from truncated output.
	ErrorTypeParsing ErrorType = "parsing"

	// ErrorTypeValidation covers well-formed but schema-incomplete responses.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeTranslationFailed is raised after translation retries exhaust.
	ErrorTypeTranslationFailed ErrorType = "translation_failed"

	// ErrorTypeInternal is the catch-all for unexpected failures.
	ErrorTypeInternal ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	ErrProviderNotFound  = NewDomainError(ErrorTypeConfiguration, "provider not found", nil)
	ErrMissingCredential = NewDomainError(ErrorTypeConfiguration, "missing provider credential", nil)

	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	ErrUpstreamRateLimit = NewDomainError(ErrorTypeUpstreamRateLimit, "upstream rate limit", nil)
	ErrUpstreamAPI       = NewDomainError(ErrorTypeUpstream, "upstream API error", nil)
	ErrEmptyCompletion   = NewDomainError(ErrorTypeUpstream, "empty completion content", nil)

	ErrResponseParsing = NewDomainError(ErrorTypeParsing, "response parsing failed", nil)
	ErrValidation      = NewDomainError(ErrorTypeValidation, "response validation failed", nil)

	ErrTranslationFailed = NewDomainError(ErrorTypeTranslationFailed, "translation failed", nil)
)

// NewRateLimitExceeded creates a local admission refusal carrying the computed
// wait so the caller can schedule its own backoff.
func NewRateLimitExceeded(provider string, retryAfter time.Duration) *DomainError {
	return NewDomainError(ErrorTypeRateLimit, fmt.Sprintf("rate limit exceeded for provider %s", provider), nil).
		WithDetail("provider", provider).
		WithDetail("retry_after", retryAfter)
}

// Error type checking helper functions

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfiguration
}

// IsRateLimitError checks if an error is a local admission error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsUpstreamRateLimitError checks if an error is an upstream quota error
func IsUpstreamRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeUpstreamRateLimit
}

// IsUpstreamError checks if an error is a generic upstream error
func IsUpstreamError(err error) bool {
	return GetErrorType(err) == ErrorTypeUpstream
}

// IsParsingError checks if an error is a response parsing error
func IsParsingError(err error) bool {
	return GetErrorType(err) == ErrorTypeParsing
}

// IsValidationError checks if an error is a schema validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsTranslationFailedError checks if an error is an exhausted translation
func IsTranslationFailedError(err error) bool {
	return GetErrorType(err) == ErrorTypeTranslationFailed
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// RetryAfter extracts the computed wait from a rate limit error, if present.
func RetryAfter(err error) (time.Duration, bool) {
	details := GetErrorDetails(err)
	if details == nil {
		return 0, false
	}
	d, ok := details["retry_after"].(time.Duration)
	return d, ok
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapUpstream wraps an error as an upstream provider error
func WrapUpstream(message string, err error) error {
	return NewDomainError(ErrorTypeUpstream, message, err)
}
