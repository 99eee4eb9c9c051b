package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrNonRetryable marks an error as explicitly not worth retrying.
var ErrNonRetryable = errors.New("resilience: error is not retryable")

// DefaultErrorChecker treats network errors, timeouts, and Go's "temporary"
// interface as retryable; everything else defaults to retryable too, mirroring
// the teacher's permissive default (the LLM client narrows this with its own
// ErrorKind-based kindErrorChecker).
type DefaultErrorChecker struct{}

func (DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	if isTransientNetworkError(err) || isTimeoutError(err) {
		return true
	}
	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return true
}

// HTTPErrorChecker classifies LLM provider HTTP errors: 5xx, 429 and 408 are
// retryable, everything else (4xx content-policy, bad-request) is not.
type HTTPErrorChecker struct {
	StatusCode int
}

func (c HTTPErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case c.StatusCode >= 500:
		return true
	case c.StatusCode == 429, c.StatusCode == 408:
		return true
	case c.StatusCode >= 400:
		return false
	default:
		return DefaultErrorChecker{}.IsRetryable(err)
	}
}

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	errMsg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(errMsg, indicator) {
			return true
		}
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
