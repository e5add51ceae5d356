package types

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrFileNotFound indicates the notes file does not exist. Rotation
	// treats it as nothing to do.
	ErrFileNotFound = errors.New("file not found")

	// ErrPermission indicates a path could not be read or written.
	ErrPermission = errors.New("permission denied")

	// ErrCorruptIndex indicates the archive index failed validation.
	ErrCorruptIndex = errors.New("corrupt archive index")

	// ErrTransactionFailure indicates a rotation step failed and was rolled back.
	ErrTransactionFailure = errors.New("rotation transaction failed")

	// ErrForcedFailure is returned by the failure injection hook.
	ErrForcedFailure = fmt.Errorf("%w: forced failure", ErrTransactionFailure)

	// ErrLockTimeout indicates a lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrInvalidConfig indicates a configuration value is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifyIOError maps an operating system error onto the error taxonomy.
// Errors that already carry a taxonomy sentinel are returned unchanged.
func ClassifyIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrPermission),
		errors.Is(err, ErrCorruptIndex), errors.Is(err, ErrTransactionFailure),
		errors.Is(err, ErrLockTimeout):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w: %w", op, ErrFileNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w: %w", op, ErrPermission, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
