package cabinet

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// doAuthenticated sends req with the current credentials and, on a 401,
// replays it once with a recovered token.
func (c *Client) doAuthenticated(ctx context.Context, req *http.Request) (*http.Response, error) {
	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	identity := c.resolveIdentity(ctx)
	token := c.accessToken(ctx)

	first, err := c.authorize(ctx, req, getBody, token, identity)
	if err != nil {
		return nil, err
	}
	resp, err := c.executeMiddleware(first)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || authSkipped(ctx) || isReplay(ctx) {
		return resp, nil
	}

	requestID := RequestIDFromContext(ctx)
	fresh, ok := c.recoverToken(ctx, token)
	if !ok {
		c.logger.Debug("Unauthorized response kept, no token to replay with", "requestID", requestID)
		return resp, nil
	}

	drainAndClose(resp.Body)
	c.metrics.RecordUnauthorizedReplay(req.Method, getEndpointFromRequest(req))
	c.logger.Info("Replaying request after 401", "requestID", requestID, "method", req.Method)

	replayCtx := context.WithValue(ctx, replayKey, true)
	retry, err := c.authorize(replayCtx, req, getBody, fresh, identity)
	if err != nil {
		return nil, err
	}
	return c.executeMiddleware(retry)
}

// accessToken returns the token to attach, refreshing it first when it is
// expired or about to expire. A failed refresh yields no token: the request
// still goes out and the server decides.
func (c *Client) accessToken(ctx context.Context) string {
	if authSkipped(ctx) {
		return ""
	}

	token, err := c.store.AccessToken(ctx)
	if err != nil {
		c.logger.Warn("Failed to read access token", "requestID", RequestIDFromContext(ctx), "error", err.Error())
		return ""
	}
	if token == "" || !c.expiry.Expired(token) {
		return token
	}

	c.logger.Debug("Access token expired, refreshing before request", "requestID", RequestIDFromContext(ctx))
	fresh, err := c.coordinator.Refresh(ctx)
	if err != nil {
		c.logger.Warn("Pre-request refresh failed, sending without token", "requestID", RequestIDFromContext(ctx), "error", err.Error())
		return ""
	}
	return fresh
}

// recoverToken finds a token to replay a 401 with. When another request has
// already stored a newer token than the one sent, that token is used without
// another refresh.
func (c *Client) recoverToken(ctx context.Context, sent string) (string, bool) {
	current, err := c.store.AccessToken(ctx)
	if err == nil && current != "" && current != sent && !c.expiry.Expired(current) {
		return current, true
	}

	fresh, err := c.coordinator.Refresh(ctx)
	if err != nil {
		c.logger.Warn("Refresh after 401 failed", "requestID", RequestIDFromContext(ctx), "error", err.Error())
		return "", false
	}
	return fresh, true
}

// authorize clones req for one send. The caller's request is never mutated.
func (c *Client) authorize(ctx context.Context, req *http.Request, getBody func() (io.ReadCloser, error), token, identity string) (*http.Request, error) {
	out := req.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}

	hasBody := getBody != nil
	for name, values := range c.defaultHeaders {
		if out.Header.Get(name) != "" {
			continue
		}
		if name == "Content-Type" && !hasBody {
			continue
		}
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}

	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	if identity != "" && c.identityHeader != "" {
		out.Header.Set(c.identityHeader, identity)
	}
	if c.requestIDHeader != "" && out.Header.Get(c.requestIDHeader) == "" {
		if id := RequestIDFromContext(ctx); id != "" {
			out.Header.Set(c.requestIDHeader, id)
		}
	}
	return out, nil
}

// replayableBody returns a factory producing fresh copies of the request body
// so it can be sent twice. Bodies without GetBody are buffered.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
