package filter

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented      = errors.New("not implemented")
	ErrUnknownColumn       = errors.New("unknown column")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrOperatorFamily      = errors.New("operator does not apply to column type")
	ErrInvalidBranch       = errors.New("invalid branch operator")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrMissingTenant       = errors.New("tenant id is required")
	ErrInvalidFilter       = errors.New("invalid filter")
	ErrInvalidTimestamp    = errors.New("timestamp must be RFC 3339")
)

// CompileError describes the leaf or branch a compilation failed on
type CompileError struct {
	Table  Table
	Column string
	Clause Clause
	Err    error
}

func (e *CompileError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("compile %s filter on %q: %v", e.Clause, e.Table, e.Err)
	}
	return fmt.Sprintf("compile %s filter on %q.%q: %v", e.Clause, e.Table, e.Column, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
