package broker

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when a call requiring session tokens
// runs before Authenticate.
var ErrNotAuthenticated = errors.New("broker: not authenticated")

// TransientError marks failures worth retrying: timeouts, 429 and 5xx
// responses, connection resets.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("broker: transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("broker: transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks failures that retrying cannot fix: authentication
// failures, malformed orders, 4xx responses other than 429.
type FatalError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("broker: fatal error (status %d, code %q): %v", e.StatusCode, e.Code, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ValidationError marks order parameters rejected before submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("broker: invalid order: %s %s", e.Field, e.Reason)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
