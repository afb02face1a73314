package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFaceDetected is returned by an Extractor when the image holds no usable face.
	// It is a normal negative outcome; the Engine reports it as a NoFace result.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrDimensionMismatch means a vector length differs from the deployment's embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrNotFound  = errors.New("not found")
	ErrEmptyName = errors.New("name is empty")
)

// StorageError wraps any persistence fault: the backend being unavailable,
// a constraint violation or a failed transaction.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a *StorageError unless it is nil or already one of the
// taxonomy errors that callers branch on.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDimensionMismatch) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// CheckDimension returns ErrDimensionMismatch when len(v) != dim.
func CheckDimension(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
	}
	return nil
}
