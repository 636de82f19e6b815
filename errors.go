package evh

// errors.go - error taxonomy for the evh module.
//
// Sentinel errors are matched with errors.Is; the wrapper types carry
// context and unwrap to a sentinel so both styles work.

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is not a user-visible error; it is control flow
	// internal to the read/write paths and never escapes the package.
	ErrWouldBlock = errors.New("evh: would block")

	// ErrCapacity is returned when a fixed-capacity resource (slab pool,
	// hashtable, new-handle queue, write queue) is exhausted.
	ErrCapacity = errors.New("evh: capacity exceeded")

	// ErrConfiguration is returned by New when the supplied Config fails
	// validation.
	ErrConfiguration = errors.New("evh: invalid configuration")

	// ErrTLSSession is returned when a TLS handshake or record-layer
	// operation fails.
	ErrTLSSession = errors.New("evh: tls session error")

	// ErrWriteFailed is returned when the socket write itself fails for
	// a non-would-block reason, including the DebugWriteError test hook.
	ErrWriteFailed = errors.New("evh: write failed")

	// ErrClosed is returned by WriteHandle operations on a stream whose
	// WriteState.CLOSE flag is already set.
	ErrClosed = errors.New("evh: write handle closed")

	// ErrSuspended is returned by WriteHandle.Write while the stream is
	// suspended.
	ErrSuspended = errors.New("evh: write handle suspended")

	// ErrNotRunning is returned by Controller methods called before
	// Start or after Stop has completed.
	ErrNotRunning = errors.New("evh: not running")

	// ErrAlreadyRunning is returned by Start when called twice.
	ErrAlreadyRunning = errors.New("evh: already running")
)

// ConfigError wraps ErrConfiguration with the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("evh: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// CapacityError wraps ErrCapacity with the exhausted resource's name.
type CapacityError struct {
	Resource string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("evh: capacity exceeded: %s", e.Resource)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

// PanicError is the payload handed to the on_panic callback.
// Value is whatever was passed to panic(); Stack is the goroutine stack
// trace captured at recovery time.
type PanicError struct {
	Value  any
	Stack  []byte
	Worker int
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("evh: worker %d panicked: %v", e.Worker, e.Value)
}

// Unwrap returns the underlying error if the panic value is itself an
// error, enabling errors.Is/errors.As through the panic's cause chain.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
