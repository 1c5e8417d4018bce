package store

import (
	"errors"
	"fmt"

	"github.com/roach88/flux/internal/ir"
)

// ErrNotFound is returned when a point lookup or a full-row update targets
// a (state_machine_id, id) that does not exist.
var ErrNotFound = errors.New("not found")

// StorageError reports a failure of the underlying database: unavailable
// storage, a constraint violation, a cancelled context.
type StorageError struct {
	// Op is the repository operation that failed.
	Op string

	// Shard is the shard the operation ran against.
	Shard ir.ShardID

	// Err is the driver error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Shard, e.Err)
}

// Unwrap returns the driver error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageFailure reports whether err is, or wraps, a *StorageError.
func IsStorageFailure(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func storageErr(op string, shard ir.ShardID, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Shard: shard, Err: err}
}
