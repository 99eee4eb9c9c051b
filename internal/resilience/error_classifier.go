package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// classifyError buckets an error for metrics labeling: timeout, network,
// rate_limit, context_cancelled, context_deadline, dns, or unknown.
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "rate limit"), strings.Contains(errMsg, "too many requests"), strings.Contains(errMsg, "429"):
		return "rate_limit"
	case strings.Contains(errMsg, "timeout"), strings.Contains(errMsg, "deadline exceeded"), strings.Contains(errMsg, "timed out"):
		return "timeout"
	case strings.Contains(errMsg, "connection"), strings.Contains(errMsg, "network"):
		return "network"
	case errors.Is(err, syscall.ECONNRESET):
		return "network"
	default:
		return "unknown"
	}
}
