package services

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded is returned when the local daily request budget is
// spent. No network call was made; callers should back off until the reset.
var ErrRateLimitExceeded = errors.New("daily API rate limit exceeded")

// UpstreamError is a non-2xx response from an upstream HTTP source
type UpstreamError struct {
	Service string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Service, e.Status, e.Message)
}

// TransportError is a network-level failure: DNS, connection, timeout or
// cancellation. The request may or may not have reached the upstream.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err came from the local request budget
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}
