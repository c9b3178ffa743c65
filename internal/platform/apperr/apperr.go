// Package apperr defines the error taxonomy shared by the domain packages:
// validation failures, illegal lifecycle transitions, missing records, and
// benign uniqueness conflicts. Handlers map these to HTTP status codes in one
// place instead of string-matching error text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrNotFound marks a reference to a routine, rule, instance, or item
	// that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks a request rejected before any write happened.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition marks a lifecycle transition attempted from a
	// state that does not permit it (e.g. responding to a confirmed
	// reminder). The target record is unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict marks a uniqueness conflict absorbed at the storage
	// layer, surfaced as "already exists" rather than a failure.
	ErrConflict = errors.New("already exists")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Validationf wraps ErrValidation with context.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Transitionf wraps ErrInvalidTransition with context.
func Transitionf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidTransition)...)
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }

// HTTPError converts a domain error into an echo.HTTPError with the
// appropriate status code. Unknown errors become 500s.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case IsInvalidTransition(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
