// Package apperr formalizes the error taxonomy of spec.md §7 as a typed
// error with an HTTP-status mapping, generalizing the ad hoc
// writeError(w, status, msg) calls the teacher scatters across its
// internal/server/api_*.go handlers into a single reusable type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is one of the §7 error categories.
type Class string

const (
	ClassValidation  Class = "validation"
	ClassNotFound    Class = "not-found"
	ClassConflict    Class = "conflict"
	ClassClaimed     Class = "claimed"
	ClassUnavailable Class = "unavailable"
	ClassPersistence Class = "persistence"
	ClassInternal    Class = "internal"
)

// Error is a classified application error. Adjudication outcomes
// (duplicate/rejected scans) are NOT represented as Error — spec.md §7
// is explicit that those are valid statuses returned to the caller, not
// failures.
type Error struct {
	Class   Class
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Class to its §7 HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Class {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassNotFound:
		return http.StatusNotFound
	case ClassConflict:
		return http.StatusConflict
	case ClassClaimed:
		return http.StatusConflict
	case ClassUnavailable:
		return http.StatusServiceUnavailable
	case ClassPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func New(class Class, message string) *Error {
	return &Error{Class: class, Message: message}
}

func Wrap(class Class, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

func Validation(msg string) *Error  { return New(ClassValidation, msg) }
func NotFound(msg string) *Error    { return New(ClassNotFound, msg) }
func Conflict(msg string) *Error    { return New(ClassConflict, msg) }
func Claimed(msg string) *Error     { return New(ClassClaimed, msg) }
func Unavailable(msg string) *Error { return New(ClassUnavailable, msg) }
func Persistence(err error) *Error  { return Wrap(ClassPersistence, "persistence failure", err) }
func Internal(err error) *Error     { return Wrap(ClassInternal, "internal error", err) }

// As is a small convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// ClassOf returns the Class of err if it is (or wraps) an *Error, and
// ClassInternal otherwise — used by the HTTP layer to fail closed on
// unrecognized errors (spec.md §7 "internal — unexpected").
func ClassOf(err error) Class {
	if e, ok := As(err); ok {
		return e.Class
	}
	return ClassInternal
}

// HTTPStatusOf maps any error to an HTTP status via ClassOf.
func HTTPStatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
