package command

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation matches any InvalidOperationError.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrMissingRequiredField matches any MissingFieldError.
	ErrMissingRequiredField = errors.New("missing required field")
)

// InvalidOperationError is returned for names outside the fixed operation set.
type InvalidOperationError struct {
	Operation string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation: %q", e.Operation)
}

func (e *InvalidOperationError) Is(target error) bool {
	return target == ErrInvalidOperation
}

// MissingFieldError names the first required field Render found absent.
type MissingFieldError struct {
	Operation Operation
	Field     Field
}

func (e *MissingFieldError) Error() string {
	if e.Field == FieldOperation {
		return "operation not set"
	}
	return fmt.Sprintf("%s requires %s", e.Operation, e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingRequiredField
}
