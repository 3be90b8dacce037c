package cabinet

import (
	"context"
	"net/http"
	"time"
)

// Middleware wraps the final send of every request, including 401 replays.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option
type Option func(*Client)

// Unmarshaler decodes response bodies for the typed helpers.
type Unmarshaler interface {
	Unmarshal(data []byte, v interface{}) error
}

// TokenPair is what a Refresher hands back. RefreshToken is empty when the
// backend does not rotate refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (*TokenPair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return f(ctx, refreshToken)
}

// SessionExpiredFunc is invoked after a refresh failed for good and the stored
// tokens were cleared.
type SessionExpiredFunc func(ctx context.Context, err error)

type contextKey string

const (
	replayKey    contextKey = "cabinet_replay"
	requestIDKey contextKey = "cabinet_request_id"
	skipAuthKey  contextKey = "cabinet_skip_auth"
)

// WithoutAuth marks a request context so that no Authorization header is
// attached and no refresh is attempted for it.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipAuthKey, true)
}

// RequestIDFromContext returns the id assigned to an in-flight request. It is
// available to middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func isReplay(ctx context.Context) bool {
	v, _ := ctx.Value(replayKey).(bool)
	return v
}

func authSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipAuthKey).(bool)
	return v
}
