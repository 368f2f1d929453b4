package provider

import (
	"context"
	"errors"
)

// Retryable classifies a provider error: context timeouts and
// cancellations are worth another attempt later, provider-contract
// violations are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, ErrNoProvider) {
		return false
	}
	return true
}
