package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// statusCarrier is implemented by errors that carry a provider HTTP status.
type statusCarrier interface {
	StatusCode() int
}

// transientCarrier is implemented by errors that self-classify.
type transientCarrier interface {
	Transient() bool
}

// Counts reports whether err is an infrastructure-shaped failure that
// should affect circuit state. Validation and other 4xx-class failures
// never do: a broken request tells us nothing about the dependency.
func Counts(err error) bool {
	if err == nil {
		return false
	}

	// Explicit classification wins over shape probing.
	var sc statusCarrier
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == 429 || (code >= 500 && code < 600) {
			return true
		}
		if code != 0 {
			return false
		}
	}

	var tc transientCarrier
	if errors.As(err, &tc) {
		return tc.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return true
	}

	return false
}
