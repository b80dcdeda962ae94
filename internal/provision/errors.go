package provision

import (
	"errors"
	"fmt"
)

// Outcome categories for provisioning failures. Match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateTenant    = errors.New("tenant already exists")
	ErrDuplicateExtension = errors.New("extension already exists")
	ErrTenantNotFound     = errors.New("tenant not found")
)

// ValidationError lists the invalid fields of a request.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return e.Fields[0]
	}
	return fmt.Sprintf("%d invalid fields: %v", len(e.Fields), e.Fields)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps a backing store or filesystem failure during a
// provisioning operation. Any partial database state has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
