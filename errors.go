package llmdispatch

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	ErrClientInvalid       = errors.New("llmdispatch: client request invalid")
	ErrAuthFailed          = errors.New("llmdispatch: authentication failed")
	ErrRateLimited         = errors.New("llmdispatch: rate limited by service")
	ErrProviderUnavailable = errors.New("llmdispatch: service unavailable")
	ErrRetryExhausted      = errors.New("llmdispatch: retry over")
	ErrClosed              = errors.New("llmdispatch: dispatcher closed")
	ErrCancelled           = errors.New("llmdispatch: subscription cancelled")
)

// Class is the retry classification of an error.
type Class int

const (
	ClassTransient Class = iota
	ClassClientInvalid
	ClassRateLimited
	ClassRetryExhausted
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassClientInvalid:
		return "client_invalid"
	case ClassRateLimited:
		return "rate_limited"
	case ClassRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the retry taxonomy. Anything not recognised
// is transient.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrRetryExhausted):
		return ClassRetryExhausted
	case IsFatal(err):
		return ClassClientInvalid
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	default:
		return ClassTransient
	}
}

// IsFatal returns true if the error must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrClientInvalid) || errors.Is(err, ErrAuthFailed)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	c := Classify(err)
	return c == ClassTransient || c == ClassRateLimited
}

// ProviderError is returned by providers for a non-2xx response. It keeps
// the response headers so rate-limit metadata is learned from failures too.
type ProviderError struct {
	StatusCode int
	Header     http.Header
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UnitError is the terminal rejection of a submitted request.
type UnitError struct {
	// Err is the classified error surfaced to the caller.
	Err error
	// Cause is the last underlying error when Err is a budget or lifecycle
	// error; nil otherwise.
	Cause    error
	Class    Class
	ID       string
	Label    string
	Bucket   Bucket
	Attempts int
}

func (e *UnitError) Error() string {
	msg := fmt.Sprintf("llmdispatch: label=%s bucket=%s attempts=%d: %v",
		e.Label, e.Bucket, e.Attempts, e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnitError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
