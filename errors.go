package fdtable

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a descriptor is negative or not below
	// the table's capacity (or, for InstallAt, the configured maximum).
	ErrOutOfRange = errors.New("descriptor out of range")

	// ErrNotOpen is returned when a descriptor is not in use.
	ErrNotOpen = errors.New("descriptor not open")

	// ErrBusy is returned when a descriptor is reserved by Allocate but not
	// yet installed, or when Install targets an already installed slot.
	ErrBusy = errors.New("descriptor busy")

	// ErrResourceExhausted is returned when storage for a larger table
	// could not be obtained. The table is unchanged.
	ErrResourceExhausted = errors.New("descriptor table storage exhausted")

	// ErrLimitReached is returned when growing would exceed the configured
	// maximum capacity. The table is unchanged.
	ErrLimitReached = errors.New("descriptor limit reached")

	// ErrClosed is returned when the table's last reference has been dropped.
	ErrClosed = errors.New("descriptor table closed")
)

// FDError records a failed operation on one descriptor.
//
// The underlying sentinel can be matched with errors.Is.
type FDError struct {
	Op  string
	FD  int
	Err error
}

func (e *FDError) Error() string {
	return fmt.Sprintf("fdtable: %s fd %d: %v", e.Op, e.FD, e.Err)
}

func (e *FDError) Unwrap() error { return e.Err }

func fdErr(op string, fd int, err error) error {
	return &FDError{Op: op, FD: fd, Err: err}
}

// GrowError records a refused growth.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type GrowError struct {
	From  int
	To    int
	Err   error
	cause error
}

func (e *GrowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("fdtable: grow %d -> %d: %v: %v", e.From, e.To, e.Err, e.cause)
	}
	return fmt.Sprintf("fdtable: grow %d -> %d: %v", e.From, e.To, e.Err)
}

// Is reports whether target matches the growth failure kind.
func (e *GrowError) Is(target error) bool { return target == e.Err }

func (e *GrowError) Unwrap() error { return e.cause }
