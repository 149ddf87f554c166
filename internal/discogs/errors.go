package discogs

import (
	"errors"
	"fmt"
)

// RemoteError is returned by the client once its retry budget for a call is
// exhausted, or immediately for a non-retryable status. The last observed
// status and body are preserved for diagnostics.
type RemoteError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("GET %s failed: %s", e.URL, e.Body)
	}
	return fmt.Sprintf("GET %s failed (%d)", e.URL, e.StatusCode)
}

// AsRemoteError unwraps err to a *RemoteError if one is in the chain.
func AsRemoteError(err error) (*RemoteError, bool) {
	var rerr *RemoteError
	ok := errors.As(err, &rerr)
	return rerr, ok
}

// ValidationError marks a single fetched item as structurally unusable
// (for example a listing missing its shipping price). Callers skip the
// item and keep going.
type ValidationError struct {
	Kind   string
	ID     int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("rejected %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("rejected %s %d: %s", e.Kind, e.ID, e.Reason)
}

// IsValidation reports whether err is a per-item validation failure.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
