package cabinet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client attaches the session's bearer token and the platform identity header
// to every request, refreshes expired access tokens through a single-flight
// Coordinator and replays a request once after a 401. It is safe for
// concurrent use.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	timeout          time.Duration
	defaultHeaders   http.Header
	middleware       []Middleware
	store            TokenStore
	refresher        Refresher
	refreshPath      string
	refreshTimeout   time.Duration
	retryPolicy      RetryPolicy
	circuitBreaker   *CircuitBreaker
	onSessionExpired SessionExpiredFunc
	coordinator      *Coordinator
	expiry           ExpiryChecker
	identity         IdentitySource
	identityHeader   string
	requestIDHeader  string
	requestIDGen     func() string
	unmarshaler      Unmarshaler
	metrics          *MetricsCollector
	logger           Logger
	debug            bool
	validationError  error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
		defaultHeaders: http.Header{
			"Content-Type": []string{"application/json"},
			"Accept":       []string{"application/json"},
			"User-Agent":   []string{userAgent()},
		},
		middleware:      []Middleware{},
		store:           NewMemoryStore(Session{}),
		refreshPath:     DefaultRefreshPath,
		refreshTimeout:  15 * time.Second,
		expiry:          JWTExpiry{Skew: DefaultExpirySkew},
		identityHeader:  DefaultIdentityHeader,
		requestIDHeader: "X-Request-ID",
		requestIDGen:    func() string { return uuid.NewString() },
		unmarshaler:     jsonUnmarshaler{},
		logger:          nopLogger{},
	}

	for _, option := range options {
		option(client)
	}

	if client.refresher == nil {
		var transport http.RoundTripper
		if client.httpClient != nil {
			transport = client.httpClient.Transport
		}
		client.refresher = NewHTTPRefresher(client.baseURL, client.refreshPath, &http.Client{
			Timeout:   client.refreshTimeout,
			Transport: transport,
		})
	}
	client.coordinator = NewCoordinator(CoordinatorConfig{
		Store:            client.store,
		Refresher:        client.refresher,
		RetryPolicy:      client.retryPolicy,
		CircuitBreaker:   client.circuitBreaker,
		Timeout:          client.refreshTimeout,
		OnSessionExpired: client.onSessionExpired,
		Metrics:          client.metrics,
		Logger:           client.logger,
	})
	client.circuitBreaker = client.coordinator.CircuitBreaker()

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET. path may be absolute or relative to the base URL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, path, "", nil)
}

// Delete performs an HTTP DELETE.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.send(ctx, http.MethodDelete, path, "", nil)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.send(ctx, http.MethodPost, path, contentType, body)
}

// Put performs an HTTP PUT with the given content type.
func (c *Client) Put(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.send(ctx, http.MethodPut, path, contentType, body)
}

// Patch performs an HTTP PATCH with the given content type.
func (c *Client) Patch(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.send(ctx, http.MethodPatch, path, contentType, body)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// NewRequest builds a request whose URL is resolved against the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.ResolveURL(path), body)
}

// ResolveURL joins a relative path onto the base URL. Absolute URLs are
// returned unchanged.
func (c *Client) ResolveURL(path string) string {
	return joinURL(c.baseURL, path)
}

// Do executes a prepared request through the authentication pipeline. HTTP
// error statuses are returned as responses; only transport failures are
// returned as errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.httpClient == nil {
		return nil, c.ValidationError()
	}
	start := time.Now()
	if req.URL != nil && req.URL.Host == "" && c.baseURL != "" {
		resolved, err := http.NewRequestWithContext(req.Context(), req.Method, c.ResolveURL(req.URL.String()), req.Body)
		if err != nil {
			return nil, err
		}
		resolved.Header = req.Header
		resolved.GetBody = req.GetBody
		resolved.ContentLength = req.ContentLength
		req = resolved
	}

	var requestID string
	if c.requestIDGen != nil {
		requestID = c.requestIDGen()
	} else {
		requestID = uuid.NewString()
	}
	ctx := context.WithValue(req.Context(), requestIDKey, requestID)
	endpoint := getEndpointFromRequest(req)

	if c.debug {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}
	c.metrics.RecordRequestStart(req.Method, endpoint)

	resp, err := c.doAuthenticated(ctx, req)

	c.metrics.RecordRequestEnd(req.Method, endpoint)
	duration := time.Since(start)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)

	if err != nil {
		c.metrics.RecordError(ErrorTypeNetwork, req.Method, endpoint)
		c.logger.Warn("Request failed", "requestID", requestID, "method", req.Method, "endpoint", endpoint, "error", err.Error())
		return nil, c.createClientError(ErrorTypeNetwork, "network request failed", err, requestID, req, duration)
	}

	if c.debug {
		c.logger.Debug("Request completed", "requestID", requestID, "statusCode", statusCode, "duration", duration)
	}
	return resp, nil
}

// Refresh forces a single-flight token refresh and returns the new token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.coordinator.Refresh(ctx)
}

// Logout drops the stored access and refresh tokens.
func (c *Client) Logout(ctx context.Context) error {
	return c.store.ClearTokens(ctx)
}

// Close releases resources held by the token store, such as a Redis
// connection pool.
func (c *Client) Close() error {
	if closer, ok := c.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Store returns the token store in use.
func (c *Client) Store() TokenStore {
	return c.store
}

// Coordinator returns the refresh coordinator in use.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) createClientError(errorType, message string, cause error, requestID string, req *http.Request, duration time.Duration) *ClientError {
	return &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		RequestID: requestID,
		Method:    req.Method,
		URL:       req.URL.String(),
		Timestamp: time.Now(),
		Duration:  duration,
	}
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(req.URL.Host)

	if path := req.URL.Path; path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}

func userAgent() string {
	return fmt.Sprintf("cabinet-go/%s", strings.TrimPrefix(Version, "v"))
}
