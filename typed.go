package cabinet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type jsonUnmarshaler struct{}

func (jsonUnmarshaler) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// GetJSON performs a GET and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.DoJSON(req, out)
}

// PostJSON encodes in as the request body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, out)
}

// PutJSON is PostJSON with PUT.
func (c *Client) PutJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPut, path, in, out)
}

// PatchJSON is PostJSON with PATCH.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.DoJSON(req, out)
}

// DoJSON executes req and decodes the body into out. Non-2xx statuses become
// a ClientError of type ErrorTypeHTTP; an empty body leaves out untouched.
func (c *Client) DoJSON(req *http.Request, out interface{}) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var requestID string
		if resp.Request != nil && c.requestIDHeader != "" {
			requestID = resp.Request.Header.Get(c.requestIDHeader)
		}
		return &ClientError{
			Type:       ErrorTypeHTTP,
			Message:    fmt.Sprintf("HTTP error %d", resp.StatusCode),
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := c.unmarshaler.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
