// Package cloud holds the types shared by the container resolver, the sync
// folder manager and the database migration: the availability result, the
// error taxonomy and the per-platform capabilities.
package cloud

import "fmt"

// Availability is the result of resolving the cloud container.
//
// Exactly one arm is populated: Path for an available container, Err for an
// unavailable one. Err always wraps one of the package sentinels.
type Availability struct {
	Path string
	Err  error
}

// Available returns a result for a resolved container path.
func Available(path string) Availability {
	return Availability{Path: path}
}

// Unavailable returns a result for an unresolvable container.
// A nil err is normalized to ErrUnavailable.
func Unavailable(err error) Availability {
	if err == nil {
		err = ErrUnavailable
	}
	return Availability{Err: err}
}

// Unavailablef wraps ErrUnavailable with a formatted reason.
func Unavailablef(format string, args ...any) Availability {
	return Availability{Err: fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))}
}

// OK reports whether the container was resolved.
func (a Availability) OK() bool {
	return a.Err == nil && a.Path != ""
}

// Result returns the availability as a (path, error) pair.
func (a Availability) Result() (string, error) {
	if a.OK() {
		return a.Path, nil
	}
	if a.Err == nil {
		return "", ErrUnavailable
	}
	return "", a.Err
}
