package model

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for the caller.
type ErrorClass string

const (
	// ErrorClassInvalidArgument indicates a null or blank required identifier
	// or a malformed entity. Surfaced synchronously to the caller.
	ErrorClassInvalidArgument ErrorClass = "invalid_argument"

	// ErrorClassNotFound indicates an update or delete targeting an absent record.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInternal indicates a storage or other backend failure.
	ErrorClassInternal ErrorClass = "internal"
)

// C2Error is a classified error with context.
type C2Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the entity kind involved (agent, device, ...), if applicable.
	Resource string `json:"resource,omitempty"`

	// ID is the identifier of the record involved, if applicable.
	ID string `json:"id,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *C2Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.ID != "" {
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.Resource, e.ID)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *C2Error) Unwrap() error {
	return e.Err
}

// Is matches any *C2Error of the same class.
func (e *C2Error) Is(target error) bool {
	t, ok := target.(*C2Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithResource adds entity context to an error.
func (e *C2Error) WithResource(resource, id string) *C2Error {
	e.Resource = resource
	e.ID = id
	return e
}

// NewInvalidArgument creates an invalid argument error.
func NewInvalidArgument(message string, err error) *C2Error {
	return &C2Error{Class: ErrorClassInvalidArgument, Message: message, Err: err}
}

// NewNotFound creates a not-found error for the given entity kind and id.
func NewNotFound(resource, id string) *C2Error {
	return &C2Error{
		Class:    ErrorClassNotFound,
		Message:  "resource not found",
		Resource: resource,
		ID:       id,
	}
}

// NewInternal creates an internal error.
func NewInternal(message string, err error) *C2Error {
	return &C2Error{Class: ErrorClassInternal, Message: message, Err: err}
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidArgument = &C2Error{Class: ErrorClassInvalidArgument}
	ErrNotFound        = &C2Error{Class: ErrorClassNotFound}
	ErrInternal        = &C2Error{Class: ErrorClassInternal}
)

// IsInvalidArgument returns true if the error is classified as invalid argument.
func IsInvalidArgument(err error) bool {
	return ClassOf(err) == ErrorClassInvalidArgument
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// ClassOf returns the class of err, or "" when err is not a *C2Error.
func ClassOf(err error) ErrorClass {
	var e *C2Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
