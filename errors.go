package cabinet

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeNetwork    = "NetworkError"
	ErrorTypeHTTP       = "HTTPError"
	ErrorTypeRefresh    = "RefreshError"
	ErrorTypeValidation = "ValidationError"
	ErrorTypeStore      = "StoreError"
)

// Sentinel errors for common failure scenarios
var (
	// ErrNoRefreshToken is returned when a refresh is needed but the store holds
	// no refresh token.
	ErrNoRefreshToken = errors.New("cabinet: no refresh token")

	// ErrRefreshFailed wraps every failed refresh exchange.
	ErrRefreshFailed = errors.New("cabinet: token refresh failed")

	// ErrRefreshCircuitOpen is returned while the refresh circuit breaker is open.
	ErrRefreshCircuitOpen = errors.New("cabinet: refresh circuit open")

	// ErrRefreshNotConfigured is returned when the refresh endpoint cannot be
	// addressed. The session is left untouched.
	ErrRefreshNotConfigured = errors.New("cabinet: refresh endpoint not configured")

	// ErrStoreUnavailable wraps token store backend failures.
	ErrStoreUnavailable = errors.New("cabinet: token store unavailable")
)

// ClientError carries request context for failures produced by the client.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	StatusCode int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// RefreshError describes a failed refresh exchange. StatusCode is zero for
// transport failures.
type RefreshError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Cause      error
}

func (e *RefreshError) Error() string {
	switch {
	case e.Cause != nil && e.StatusCode > 0:
		return fmt.Sprintf("refresh endpoint returned %d: %v", e.StatusCode, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("refresh request failed: %v", e.Cause)
	default:
		return fmt.Sprintf("refresh endpoint returned %d", e.StatusCode)
	}
}

func (e *RefreshError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrRefreshFailed, e.Cause}
	}
	return []error{ErrRefreshFailed}
}

// Transient reports whether retrying the exchange may succeed.
func (e *RefreshError) Transient() bool {
	if e.StatusCode == 0 {
		return e.Cause != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsAuthFailure reports whether err means the session could not be
// (re)authenticated: a failed refresh or a missing refresh token.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRefreshFailed) || errors.Is(err, ErrNoRefreshToken)
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRefreshCircuitOpen) || errors.Is(err, ErrStoreUnavailable) {
		return true
	}

	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr.Transient()
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork:
			return true
		case ErrorTypeHTTP:
			return clientErr.StatusCode == http.StatusTooManyRequests || clientErr.StatusCode >= 500
		}
	}
	return false
}
