// Package apperr holds the typed failures shared by the lead, partner and
// analytics packages. Callers discriminate with errors.As / errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrCodeGenerationExhausted is returned when no unique referral code could be
// produced within the configured number of attempts.
var ErrCodeGenerationExhausted = errors.New("referral code generation exhausted")

// ValidationError represents malformed input rejected before persistence
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError represents an unknown partner, lead or setting
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// ConflictError wraps a unique-constraint or optimistic-concurrency failure
// that survived the caller's retries.
type ConflictError struct {
	Entity string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %v", e.Entity, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError creates a new ConflictError
func NewConflictError(entity string, err error) *ConflictError {
	return &ConflictError{Entity: entity, Err: err}
}

// TrackingFailure is an event-log write failure. It is logged and counted,
// never returned to the request that triggered the event.
type TrackingFailure struct {
	EventType string
	Err       error
}

func (e *TrackingFailure) Error() string {
	return fmt.Sprintf("tracking %s event failed: %v", e.EventType, e.Err)
}

func (e *TrackingFailure) Unwrap() error {
	return e.Err
}

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsUniqueViolationOn reports whether err is a unique violation on the given
// column (SQLite reports "UNIQUE constraint failed: table.column").
func IsUniqueViolationOn(err error, column string) bool {
	return IsUniqueViolation(err) && strings.Contains(err.Error(), "."+column)
}

// IsBusy reports whether err is a transient SQLite lock failure worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
