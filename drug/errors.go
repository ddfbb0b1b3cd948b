package drug

import (
	"fmt"
	"net/http"
)

// RemoteBackendError reports a failed call to an external vision service:
// network, auth, or quota. The fan-out treats it as a zero contribution and
// the pipeline continues.
type RemoteBackendError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *RemoteBackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote backend %s returned status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote backend %s failed: %v", e.Service, e.Err)
}

func (e *RemoteBackendError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
// Client-side API errors other than rate limiting are final: a bad key or a
// malformed request will not get better on the next call.
func (e *RemoteBackendError) Retryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}
