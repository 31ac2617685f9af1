package indexer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass partitions failures by how the pipeline must react to them.
type ErrorClass string

// Error classes, ordered roughly by severity of reaction.
const (
	// ClassValidation: bad job config or URL. Fatal, never retried.
	ClassValidation ErrorClass = "validation"
	// ClassTransient: timeouts and 5xx. Retryable with backoff.
	ClassTransient ErrorClass = "transient"
	// ClassAuth: missing/invalid credential for one account. The account is
	// skipped; the job continues on the remaining accounts.
	ClassAuth ErrorClass = "auth"
	// ClassQuota: the external API signalled quota exhaustion. Triggers
	// account deactivation and a job pause, never a job failure.
	ClassQuota ErrorClass = "quota"
	// ClassUnknown escalates to job failure.
	ClassUnknown ErrorClass = "unknown"
)

// Error is a classified pipeline error.
type Error struct {
	Class   ErrorClass
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a classified error.
func NewError(class ErrorClass, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// ClassOf returns the class carried by err, classifying its message when the
// error was not produced by this package.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	return ClassifyMessage(err.Error())
}

// Signature fragments checked against external API error text. Matching is
// case-insensitive substring matching because upstream wording varies.
var (
	quotaSignatures = []string{
		"quota exceeded",
		"resource_exhausted",
		"rate limit exceeded",
		"too many requests",
	}
	authSignatures = []string{
		"unauthorized",
		"permission",
		"forbidden",
	}
	validationSignatures = []string{
		"invalid url",
		"malformed url",
		"invalid_argument",
	}
	transientSignatures = []string{
		"timeout",
		"timed out",
		"temporarily unavailable",
		"connection refused",
		"connection reset",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
	}
)

// ClassifyMessage maps raw error text onto an ErrorClass.
func ClassifyMessage(msg string) ErrorClass {
	lower := strings.ToLower(msg)
	for _, sig := range quotaSignatures {
		if strings.Contains(lower, sig) {
			return ClassQuota
		}
	}
	for _, sig := range authSignatures {
		if strings.Contains(lower, sig) {
			return ClassAuth
		}
	}
	for _, sig := range validationSignatures {
		if strings.Contains(lower, sig) {
			return ClassValidation
		}
	}
	for _, sig := range transientSignatures {
		if strings.Contains(lower, sig) {
			return ClassTransient
		}
	}
	return ClassUnknown
}

// IsQuotaExhausted reports whether err signals daily quota exhaustion.
func IsQuotaExhausted(err error) bool {
	return err != nil && ClassOf(err) == ClassQuota
}
