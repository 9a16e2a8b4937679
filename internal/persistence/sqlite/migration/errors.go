package migration

import (
	"errors"
	"fmt"
	"strings"
)

// Migration-specific error types for different failure scenarios
var (
	// ErrMigrationStepFailed indicates that a unit's apply/revert or its ledger update failed
	ErrMigrationStepFailed = errors.New("migration step failed")

	// ErrUnknownAppliedIdentifier indicates that the ledger references a unit absent from the registry
	ErrUnknownAppliedIdentifier = errors.New("unknown applied migration identifier")

	// ErrIrreversibleRollback indicates that a rollback would need to revert a forward-only unit
	ErrIrreversibleRollback = errors.New("irreversible rollback requested")

	// ErrUnknownTarget indicates that a rollback target is not a registered unit
	ErrUnknownTarget = errors.New("unknown rollback target")

	// ErrInvalidUnit indicates that a unit definition is malformed
	ErrInvalidUnit = errors.New("invalid migration unit")

	// ErrDuplicateVersion indicates that multiple units share the same ID
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrForeignKeyViolation indicates that PRAGMA foreign_key_check reported rows
	ErrForeignKeyViolation = errors.New("foreign key violations detected")
)

// Direction of a migration step.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// StepError wraps the failure of a single transactional step.
type StepError struct {
	Version   string    // Unit ID of the failed step
	Direction Direction // Up for apply, Down for revert
	Operation string    // Operation being performed (begin, apply, record, commit, ...)
	Err       error     // Underlying error
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s (%s): %s: %v", e.Version, e.Direction, e.Operation, e.Err)
}

// Unwrap returns the underlying error for error unwrapping
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrMigrationStepFailed for every step failure.
func (e *StepError) Is(target error) bool {
	return target == ErrMigrationStepFailed
}

func newStepError(version string, dir Direction, operation string, err error) *StepError {
	return &StepError{
		Version:   version,
		Direction: dir,
		Operation: operation,
		Err:       err,
	}
}

// UnknownIdentifierError lists ledger rows without a matching registered unit.
type UnknownIdentifierError struct {
	Versions []string
}

// Error implements the error interface
func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("%v: %s (database was migrated by a newer build?)",
		ErrUnknownAppliedIdentifier, strings.Join(e.Versions, ", "))
}

// Unwrap returns ErrUnknownAppliedIdentifier
func (e *UnknownIdentifierError) Unwrap() error {
	return ErrUnknownAppliedIdentifier
}

// IrreversibleError names the forward-only unit that blocks a rollback.
type IrreversibleError struct {
	Version string
	Target  string
}

// Error implements the error interface
func (e *IrreversibleError) Error() string {
	target := e.Target
	if target == "" {
		target = "<empty>"
	}
	return fmt.Sprintf("%v: unit %s cannot be reverted (rollback target %s)", ErrIrreversibleRollback, e.Version, target)
}

// Unwrap returns ErrIrreversibleRollback
func (e *IrreversibleError) Unwrap() error {
	return ErrIrreversibleRollback
}

// DatabaseError wraps ledger related database failures
type DatabaseError struct {
	Query     string // SQL query that failed (if applicable)
	Operation string // Database operation (execute, query, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func newDatabaseError(query, operation string, err error) *DatabaseError {
	return &DatabaseError{
		Query:     query,
		Operation: operation,
		Err:       err,
	}
}

// ErrorKind maps engine errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnknownAppliedIdentifier):
		return "unknown_applied_identifier"
	case errors.Is(err, ErrIrreversibleRollback):
		return "irreversible_rollback"
	case errors.Is(err, ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, ErrInvalidUnit), errors.Is(err, ErrDuplicateVersion):
		return "invalid_registry"
	case errors.Is(err, ErrMigrationStepFailed):
		return "step_failed"
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return "database"
	}
	return "unexpected"
}
