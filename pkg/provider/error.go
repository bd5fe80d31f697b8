package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error wraps backend failures with status metadata so the retry and
// breaker layers can classify them without knowing vendor formats.
type Error struct {
	Provider  ID
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: provider error (status=%d)", e.Provider, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// retryableSignals are error-text fragments vendors use for transient
// overload conditions that do not map cleanly onto an HTTP status.
var retryableSignals = []string{
	"rate limit",
	"rate_limit",
	"overloaded",
	"capacity",
	"timeout",
	"temporarily unavailable",
	"connection refused",
	"connection reset",
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		if provErr.Temporary {
			return true
		}
		switch provErr.Status {
		case 408, 429, 500, 502, 503, 504, 529:
			return true
		}
		if provErr.Status >= 400 && provErr.Status < 500 {
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range retryableSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

// IsAuth reports whether an error is an authentication or validation
// failure. These must never be retried.
func IsAuth(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		switch provErr.Status {
		case 400, 401, 403, 422:
			return true
		}
	}
	msg := strings.ToLower(errText(err))
	return strings.Contains(msg, "api key") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid request")
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
