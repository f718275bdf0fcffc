package browser

import (
	"errors"
	"fmt"
)

var (
	ErrHostClosed    = errors.New("browser host closed")
	ErrNoSuchElement = errors.New("no such element")
	ErrNavigation    = errors.New("navigation failed")
	ErrEvalFailed    = errors.New("script evaluation failed")
	ErrStartTimeout  = errors.New("browser start timeout")
)

// HostError wraps errors from a browser host with the failing operation.
type HostError struct {
	Op  string
	URL string
	Err error
}

func (e *HostError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("browser %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// NewHostError wraps err with the operation that produced it.
func NewHostError(op string, err error) *HostError {
	return &HostError{Op: op, Err: err}
}

// NewNavigationError wraps err with the operation and target URL.
func NewNavigationError(url string, err error) *HostError {
	return &HostError{Op: "navigate", URL: url, Err: err}
}

// IsClosed returns true if the error indicates the host was shut down.
func IsClosed(err error) bool {
	return errors.Is(err, ErrHostClosed)
}

// IsRetryableError returns true if the error might succeed on retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrHostClosed) {
		return false
	}
	if errors.Is(err, ErrNavigation) || errors.Is(err, ErrStartTimeout) {
		return true
	}
	var hostErr *HostError
	if errors.As(err, &hostErr) {
		switch hostErr.Op {
		case "navigate", "start":
			return true
		}
	}
	return false
}
