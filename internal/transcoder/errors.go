package transcoder

import (
	"errors"
	"fmt"

	"av1-worker/internal/command"
)

var (
	// ErrUnsupportedOperation is matched by UnsupportedOperationError.
	ErrUnsupportedOperation = errors.New("operation not supported by backend")
	// ErrCRFNotFound means a crf-search produced no usable value.
	ErrCRFNotFound = errors.New("no crf found in search output")
	// ErrEncoderUnavailable means ffmpeg does not list the requested encoder.
	ErrEncoderUnavailable = errors.New("encoder not available")
)

// UnsupportedOperationError is returned when a backend cannot express an operation.
type UnsupportedOperationError struct {
	Backend   string
	Operation command.Operation
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s backend does not support %s", e.Backend, e.Operation)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

// VersionParseError is returned when the version probe process fails.
type VersionParseError struct {
	Binary string
	Output string
	Err    error
}

func (e *VersionParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to read %s version: %v", e.Binary, e.Err)
	}
	return fmt.Sprintf("failed to read %s version: %s", e.Binary, e.Output)
}

func (e *VersionParseError) Unwrap() error {
	return e.Err
}
