package nova

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/nova/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrForbidden   = domain.ErrForbidden
	ErrRateLimited = domain.ErrRateLimited
	ErrValidation  = domain.ErrValidation
	ErrInvalidBody = domain.ErrInvalidBody
)

// Errors without a domain counterpart.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a non-2xx response decoded from the server's error body.
type Error struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("nova: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps the server's error code to the sentinels above.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case "forbidden":
		return target == ErrForbidden
	case "rate_limited":
		return target == ErrRateLimited
	case "validation_failed":
		return target == ErrValidation
	case "not_found":
		return target == ErrNotFound
	case "unauthorized":
		return target == ErrUnauthorized
	case "bad_request":
		return target == ErrInvalidBody
	}
	return false
}

// FieldErrors decodes Details of a validation_failed error.
func (e *Error) FieldErrors() []FieldError {
	var out []FieldError
	if len(e.Details) > 0 {
		_ = json.Unmarshal(e.Details, &out)
	}
	return out
}

// FieldError is one failed constraint of a validation error.
type FieldError struct {
	Path    string `json:"name"`
	Kind    string `json:"type"`
	Message string `json:"message"`
}
