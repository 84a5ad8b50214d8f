package kubo

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransport marks failures talking to the daemon: unreachable API or a
	// non-success status for a request with no "unknown" interpretation.
	ErrTransport = errors.New("kubo: transport failure")
	// ErrNotAvailable means no provider answered within the probe budget.
	ErrNotAvailable = errors.New("kubo: content not available")
	// ErrDownloadTimeout means a transfer stalled past its budget after the
	// content had been found.
	ErrDownloadTimeout = errors.New("kubo: download timed out")
	// ErrCannotParseIdentifier means "ipfs add" exited cleanly but printed no
	// recognizable "added <id> <name>" line.
	ErrCannotParseIdentifier = errors.New("kubo: cannot parse identifier from add output")
)

// TransportError describes a failed daemon request.
//
// errors.Is(err, ErrTransport) reports true for every TransportError.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("kubo: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("kubo: %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("kubo: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("kubo: %s failed", e.Op)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

func IsNotAvailable(err error) bool { return errors.Is(err, ErrNotAvailable) }

func IsTimeout(err error) bool { return errors.Is(err, ErrDownloadTimeout) }

// IsCanceled reports whether err stems from caller cancellation rather than
// a timeout owned by this package.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) && !IsTimeout(err)
}
