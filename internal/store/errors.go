package store

import (
	"errors"
	"fmt"
)

// ConstraintError reports a write rejected for violating a data invariant:
// a dependency cycle, an invalid duration, an inconsistent flexibility
// window, or a dedupe conflict the caller asked to be fatal. Constraint
// violations surface to the caller at write time and are never swallowed.
type ConstraintError struct {
	// Code identifies the violated constraint.
	Code ConstraintCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the offending entity.
	EntityID string
}

// ConstraintCode categorizes constraint violations.
type ConstraintCode string

const (
	// ConstraintDependencyCycle means the write would close a cycle in the
	// owner's task dependency graph.
	ConstraintDependencyCycle ConstraintCode = "DEPENDENCY_CYCLE"

	// ConstraintInvalidField means a field failed closed-form validation.
	ConstraintInvalidField ConstraintCode = "INVALID_FIELD"

	// ConstraintNotFound means the target row does not exist under the
	// given owner.
	ConstraintNotFound ConstraintCode = "NOT_FOUND"

	// ConstraintDuplicate means the dedupe key already exists.
	ConstraintDuplicate ConstraintCode = "DUPLICATE"
)

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConstraintViolation reports whether err is any constraint violation.
// Uses errors.As to handle wrapped errors.
func IsConstraintViolation(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a missing-row constraint violation.
func IsNotFound(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Code == ConstraintNotFound
}

// IsDependencyCycle reports whether err is a dependency-cycle violation.
func IsDependencyCycle(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Code == ConstraintDependencyCycle
}
