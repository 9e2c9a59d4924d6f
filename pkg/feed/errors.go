package feed

import (
	"errors"
	"fmt"
)

// ErrNoMoreData is reported when the backend signals that a list is exhausted.
var ErrNoMoreData = errors.New("no more data")

// StatusError is an application-level failure: the transport worked but the
// backend answered with a non-zero status.
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d", e.Status)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

// ErrorKind buckets load failures by how a caller should surface them.
type ErrorKind int

const (
	// KindNone means no error.
	KindNone ErrorKind = iota

	// KindTransport is a network, timeout, HTTP or decode failure. Show a
	// retry affordance.
	KindTransport

	// KindStatus is an application status failure. Show a message derived
	// from the status.
	KindStatus

	// KindExhausted means the list has no more data. Show an end-of-list
	// footer.
	KindExhausted
)

// String returns the bucket name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Classify sorts an error returned by a Loader into its bucket.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrNoMoreData) {
		return KindExhausted
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindStatus
	}
	return KindTransport
}
