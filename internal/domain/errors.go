package domain

import (
	"errors"
	"fmt"
)

// Configuration errors. Returned at setup time.
var (
	// ErrMissingSearchIndex signals a $search directive without an index.
	ErrMissingSearchIndex = errors.New("missing search index")
	// ErrAlreadyExposed signals a second expose call on the same named query.
	ErrAlreadyExposed = errors.New("query already exposed")
	// ErrNoAccessSurface signals an exposure that enables no remote method.
	ErrNoAccessSurface = errors.New("named query needs at least one access surface")
	// ErrNotResolver signals a resolver-only operation on a body query.
	ErrNotResolver = errors.New("named query is not a resolver")
	// ErrInvalidEnvironment signals a server-only operation in client mode.
	ErrInvalidEnvironment = errors.New("operation is only available server-side")
	// ErrInvalidExposeConfig signals a malformed exposure configuration.
	ErrInvalidExposeConfig = errors.New("invalid expose config")
	// ErrAlreadyRegistered signals a duplicate registration by name.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrInvalidBody signals a body tree that cannot be parsed.
	ErrInvalidBody = errors.New("invalid body")
	// ErrSoftDeleteDisabled signals Recover on a collection without soft delete.
	ErrSoftDeleteDisabled = errors.New("soft delete is not enabled for this collection")
)

// Lookup and per-call errors.
var (
	// ErrCollectionNotFound signals an unknown collection name.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrQueryNotFound signals an unknown named query.
	ErrQueryNotFound = errors.New("named query not found")
	// ErrMethodNotFound signals an unknown remote method.
	ErrMethodNotFound = errors.New("method not found")
	// ErrForbidden signals a firewall rejection.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrValidation signals invalid parameters or documents.
	ErrValidation = errors.New("validation failed")
	// ErrUnsupportedOperator signals a filter operator the engine cannot evaluate.
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// SecurityError wraps the first firewall rejection of a call.
type SecurityError struct {
	Query string
	Err   error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrForbidden.Error(), e.Query, e.Err)
}

// Unwrap exposes both ErrForbidden and the firewall's own error.
func (e *SecurityError) Unwrap() []error { return []error{ErrForbidden, e.Err} }

// RateLimitError carries the message configured on the rule that fired.
type RateLimitError struct {
	Method  string
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
