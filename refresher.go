package cabinet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRefreshPath is the cabinet backend's refresh endpoint, relative to
// the API base URL.
const DefaultRefreshPath = "/cabinet/auth/refresh"

const maxRefreshErrorBody = 512

// HTTPRefresher posts {"refresh_token": ...} to the refresh endpoint and reads
// {"access_token": ..., "refresh_token"?: ..., "expires_in"?: ...}. It uses a
// plain http.Client so refresh traffic never goes through the authenticated
// pipeline.
type HTTPRefresher struct {
	URL        string
	HTTPClient *http.Client
	Header     http.Header
}

// NewHTTPRefresher targets baseURL joined with path (DefaultRefreshPath when
// path is empty).
func NewHTTPRefresher(baseURL, path string, client *http.Client) *HTTPRefresher {
	if path == "" {
		path = DefaultRefreshPath
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPRefresher{
		URL:        joinURL(baseURL, path),
		HTTPClient: client,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !isAbsoluteURL(r.URL) {
		return nil, fmt.Errorf("%w: refresh URL %q is not absolute", ErrRefreshNotConfigured, r.URL)
	}
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, &RefreshError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &RefreshError{Cause: err}
	}
	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &RefreshError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RefreshError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxRefreshErrorBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var decoded refreshResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode refresh response: %w", err)}
	}
	if decoded.AccessToken == "" {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Cause: errors.New("refresh response has no access_token")}
	}

	pair := &TokenPair{
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
	}
	if decoded.ExpiresIn > 0 {
		pair.Expiry = time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second)
	} else if exp, ok := ExpiresAt(decoded.AccessToken); ok {
		pair.Expiry = exp
	}
	return pair, nil
}

// OAuth2Refresher runs the standard refresh_token grant against an OAuth2
// token endpoint.
type OAuth2Refresher struct {
	Config *oauth2.Config
	// HTTPClient is injected into the oauth2 exchange through its context key.
	HTTPClient *http.Client
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if r.Config == nil {
		return nil, &RefreshError{Cause: errors.New("oauth2 config is nil")}
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	// An expired seed token forces the source to hit the token endpoint.
	seed := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	token, err := r.Config.TokenSource(ctx, seed).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &RefreshError{
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       truncate(string(retrieveErr.Body), maxRefreshErrorBody),
				Cause:      err,
			}
		}
		return nil, &RefreshError{Cause: err}
	}

	pair := &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	// the token source echoes the old refresh token when the provider did not rotate it
	if pair.RefreshToken == refreshToken {
		pair.RefreshToken = ""
	}
	return pair, nil
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
