package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Reset when no counter exists for the key.
var ErrNotFound = errors.New("counter not found")

// ErrUnavailable matches every infrastructure failure returned by a CounterStore.
var ErrUnavailable = errors.New("counter store unavailable")

// errClosed is reported when a store is used after Close.
var errClosed = errors.New("store is closed")

// UnavailableError wraps a transport or storage failure of a single store
// operation. It matches ErrUnavailable with errors.Is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("counter store %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// unavailable wraps err as an UnavailableError for op. A nil err stays nil.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Err: err}
}
