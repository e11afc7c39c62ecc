package pipeline

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound reports a missing relation, run, or report.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateColumn reports a schema step re-run against a table that
	// already carries the column it would add.
	ErrDuplicateColumn = errors.New("column already exists")

	// ErrAlreadyExists reports a key or constraint re-added to a table that
	// already has it.
	ErrAlreadyExists = errors.New("already exists")
)

// TypeCoercionError reports a stored value that cannot be converted to its
// target type. The offending row ordinal and column are always identified;
// coercion never silently drops or nulls a value.
type TypeCoercionError struct {
	Stage  string
	Column string
	Row    int64
	Value  string
	Target string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("stage %s: row %d column %q: cannot coerce %q to %s",
		e.Stage, e.Row, e.Column, e.Value, e.Target)
}

// ConstraintViolation reports a key or uniqueness constraint failure. It
// should not occur under sequential key assignment; it is surfaced rather
// than swallowed when the engine reports one.
type ConstraintViolation struct {
	Constraint string
	Detail     string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint %s violated: %s", e.Constraint, e.Detail)
}

// StageError attaches the failing stage name to its cause so run records and
// failure events can report where the pipeline stopped.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// classify maps Postgres error codes onto the pipeline error taxonomy.
// Anything unrecognized passes through untouched.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "42P01": // undefined_table
		return fmt.Errorf("%s: %w", pgErr.Message, ErrNotFound)
	case "42701": // duplicate_column
		return fmt.Errorf("%s: %w", pgErr.Message, ErrDuplicateColumn)
	case "42P07", "42P16", "42710": // duplicate table, second primary key, duplicate object
		return fmt.Errorf("%s: %w", pgErr.Message, ErrAlreadyExists)
	case "23505", "23502", "23514": // unique, not-null, check
		return &ConstraintViolation{Constraint: pgErr.ConstraintName, Detail: pgErr.Message}
	}
	return err
}
