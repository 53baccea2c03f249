package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrSchemaViolation = errors.New("schema violation")
	ErrStore           = errors.New("store error")
)

// UnknownEntityError is returned when a registry lookup misses.
type UnknownEntityError struct {
	Name string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity: %s", e.Name)
}

func (e *UnknownEntityError) Is(target error) bool {
	return target == ErrUnknownEntity
}

// SchemaViolationError is returned when a batch lacks required columns.
// The whole batch for the entity is rejected.
type SchemaViolationError struct {
	Entity  string
	Missing []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s: missing required columns [%s]", e.Entity, strings.Join(e.Missing, ", "))
}

func (e *SchemaViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}

// Constraint kinds reported by store drivers.
const (
	ConstraintForeignKey = "foreign_key"
	ConstraintUnique     = "unique"
	ConstraintNotNull    = "not_null"
	ConstraintCheck      = "check"
	ConstraintDatatype   = "datatype"
)

// StoreError wraps a failure during a transactional apply.
// Constraint is empty for I/O and driver failures.
type StoreError struct {
	Entity     string
	Op         string // begin, insert, update, commit, snapshot
	Constraint string
	Err        error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("store ")
	b.WriteString(e.Op)
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
	}
	if e.Constraint != "" {
		b.WriteString(" (")
		b.WriteString(e.Constraint)
		b.WriteString(" constraint)")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// IsConstraint reports whether err is a StoreError of the given constraint kind.
func IsConstraint(err error, kind string) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Constraint == kind
}
