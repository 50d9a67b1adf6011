package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass categorizes an LLM API failure for fallback decisions.
type ErrorClass string

// Error classes. Auth and payment are fatal: trying another model on the
// same account cannot help.
const (
	ClassAuth        ErrorClass = "auth"
	ClassPayment     ErrorClass = "payment"
	ClassRateLimited ErrorClass = "rate_limited"
	ClassNotFound    ErrorClass = "not_found"
	ClassServer      ErrorClass = "server"
	ClassTransport   ErrorClass = "transport"
	ClassCancelled   ErrorClass = "cancelled"
	ClassUnexpected  ErrorClass = "unexpected"
)

// APIError is a classified LLM provider failure.
type APIError struct {
	Class  ErrorClass
	Status int
	Model  string
	Body   string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s error (status %d, model %s): %s", e.Class, e.Status, e.Model, e.Body)
	}
	return fmt.Sprintf("llm %s error (model %s): %s", e.Class, e.Model, e.Body)
}

// classify maps an HTTP status to an error class.
func classify(status int) ErrorClass {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 402:
		return ClassPayment
	case status == 404:
		return ClassNotFound
	case status == 429:
		return ClassRateLimited
	case status >= 500:
		return ClassServer
	default:
		return ClassUnexpected
	}
}

// IsFatal reports whether the error should abort the fallback chain.
func IsFatal(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class == ClassAuth || apiErr.Class == ClassPayment
	}
	return false
}

// IsCancelled reports whether the error stems from context cancellation.
func IsCancelled(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Class == ClassCancelled {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
