package cloud

import (
	"errors"
	"fmt"
)

// Errors returned by container, sync folder and database operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, cloud.ErrUnavailable) {
//	    // iCloud is present but the user is not signed in
//	}
var (
	// ErrPlatformUnsupported is returned when the host has no cloud
	// container support at all. No native call is attempted.
	ErrPlatformUnsupported = errors.New("platform not supported")

	// ErrUnavailable is returned when cloud support exists but the
	// container is not provisioned or the user is not signed in.
	ErrUnavailable = errors.New("iCloud container not available")

	// ErrTimeout is returned when a bounded call exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrIO wraps create/read/write/copy/delete failures.
	ErrIO = errors.New("i/o failure")

	// ErrIntegrity is returned when a database opens but fails its
	// consistency check.
	ErrIntegrity = errors.New("database integrity check failed")

	// ErrPathRejected is returned when a write or read target lies
	// outside the container namespace.
	ErrPathRejected = errors.New("path outside iCloud container")
)

// IsTransient returns true if the error may clear up on a later call
// without user action (slow daemon, container still propagating).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Sign-in and provisioning state can change between calls
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	return false
}

// IsCallerError returns true if the error was caused by the caller's
// input rather than the environment.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrPathRejected)
}

// IsFatal returns true if retrying can never succeed on this host.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPlatformUnsupported)
}

// IOError records a failed filesystem operation. It matches both ErrIO and
// the underlying OS error with errors.Is.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns ErrIO and the underlying error.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// IOErr wraps err as an *IOError, or returns nil for a nil err.
func IOErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
