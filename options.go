package cabinet

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WithBaseURL sets the URL relative request paths are joined onto
// (e.g. "https://example.com/api").
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if client != nil && c.timeout != 0 && client.Timeout == 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithTransport replaces the transport of the underlying HTTP client. The
// default refresher shares it.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Transport = rt
		}
	}
}

// WithHeader adds a default header sent when a request does not set it.
func WithHeader(name, value string) Option {
	return func(c *Client) {
		c.defaultHeaders.Set(name, value)
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithTokenStore sets where the session credentials live.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithSession uses an in-memory store seeded with s.
func WithSession(s Session) Option {
	return func(c *Client) {
		c.store = NewMemoryStore(s)
	}
}

// WithRefresher replaces the default HTTP refresher.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// WithRefreshPath changes the refresh endpoint of the default refresher.
func WithRefreshPath(path string) Option {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithRefreshTimeout bounds one refresh execution, retries included.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.refreshTimeout = d
	}
}

// WithRetryPolicy sets how failed refresh exchanges are retried.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRefreshRetries retries transient refresh failures n times with the
// default exponential backoff.
func WithRefreshRetries(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.retryPolicy = NoRetry{}
			return
		}
		c.retryPolicy = NewDefaultRetryPolicy(n, 200*time.Millisecond, 2*time.Second, 2.0, 0.1)
	}
}

// WithCircuitBreaker sets the circuit breaker configuration guarding refresh.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithOnSessionExpired registers the callback run after a failed refresh
// cleared the session, typically to send the user back to login.
func WithOnSessionExpired(fn SessionExpiredFunc) Option {
	return func(c *Client) {
		c.onSessionExpired = fn
	}
}

// WithExpiryChecker replaces the JWT exp based check.
func WithExpiryChecker(checker ExpiryChecker) Option {
	return func(c *Client) {
		c.expiry = checker
	}
}

// WithExpirySkew refreshes tokens this long before they expire.
func WithExpirySkew(d time.Duration) Option {
	return func(c *Client) {
		c.expiry = JWTExpiry{Skew: d}
	}
}

// WithIdentitySource sets where the live identity data comes from.
func WithIdentitySource(source IdentitySource) Option {
	return func(c *Client) {
		c.identity = source
	}
}

// WithIdentityHeader renames the identity header. Empty disables it.
func WithIdentityHeader(name string) Option {
	return func(c *Client) {
		c.identityHeader = name
	}
}

// WithRequestIDHeader renames the request id header. Empty disables it.
func WithRequestIDHeader(name string) Option {
	return func(c *Client) {
		c.requestIDHeader = name
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// WithUnmarshaler sets the decoder used by the typed JSON helpers.
func WithUnmarshaler(u Unmarshaler) Option {
	return func(c *Client) {
		c.unmarshaler = u
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables metrics on a caller-owned registerer.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.debug = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug logs the start and end of every request.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = true
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateAuthConfig()...)
	errors = append(errors, c.validateMiddlewareConfig()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}
	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}
	if c.baseURL != "" {
		if u, err := url.Parse(c.baseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("baseURL %q must be an absolute URL", c.baseURL))
		}
	}
	if c.requestIDGen == nil {
		errors = append(errors, "request ID generator cannot be nil")
	}
	if c.unmarshaler == nil {
		errors = append(errors, "unmarshaler cannot be nil")
	}
	if c.logger == nil {
		errors = append(errors, "logger cannot be nil")
	}

	return errors
}

func (c *Client) validateAuthConfig() []string {
	var errors []string

	if c.store == nil {
		errors = append(errors, "token store cannot be nil")
	}
	if c.expiry == nil {
		errors = append(errors, "expiry checker cannot be nil")
	}
	if c.refreshTimeout <= 0 {
		errors = append(errors, "refreshTimeout must be positive")
	}
	if r, ok := c.refresher.(*HTTPRefresher); ok && !isAbsoluteURL(r.URL) {
		errors = append(errors, fmt.Sprintf("refresh URL %q must be absolute; set a base URL or a refresher", r.URL))
	}
	if skew, ok := c.expiry.(JWTExpiry); ok && skew.Skew < 0 {
		errors = append(errors, "expiry skew must be non-negative")
	}
	if c.circuitBreaker != nil {
		if c.circuitBreaker.config.FailureThreshold <= 0 {
			errors = append(errors, "circuitBreaker FailureThreshold must be positive")
		}
		if c.circuitBreaker.config.RecoveryTimeout <= 0 {
			errors = append(errors, "circuitBreaker RecoveryTimeout must be positive")
		}
	}

	return errors
}

func (c *Client) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}
