package service

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError means the request itself is unusable; nothing was written.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// StorageError means the partition could not be created or the file could
// not be written. No record was inserted.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store image: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PersistenceError means the file was written to Path but the metadata
// insert failed, leaving the file orphaned on disk.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("record image %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// outcome classifies err for the Observer.
func outcome(err error) string {
	var (
		verr *ValidationError
		serr *StorageError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &verr):
		return OutcomeInvalid
	case errors.As(err, &serr):
		return OutcomeStorageError
	default:
		return OutcomePersistenceError
	}
}
