package cabinet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type testProfile struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	TelegramID int64  `json:"telegram_id"`
}

type testTopUp struct {
	Amount int    `json:"amount"`
	Method string `json:"method"`
}

func TestGetJSON(t *testing.T) {
	expected := testProfile{ID: 7, Username: "bedolaga", TelegramID: 123456}
	token := mintToken(t, "user-7", time.Now().Add(time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		if err := json.NewEncoder(w).Encode(expected); err != nil {
			t.Errorf("Failed to encode response: %v", err)
		}
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL+"/api"), WithSession(Session{AccessToken: token}))
	var profile testProfile
	if err := client.GetJSON(context.Background(), "/cabinet/auth/me", &profile); err != nil {
		t.Fatalf("GetJSON() returned error: %v", err)
	}

	if profile != expected {
		t.Errorf("Expected %+v, got %+v", expected, profile)
	}
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != contentTypeJSON {
			t.Errorf(expectedContentTypeMsg, r.Header.Get("Content-Type"))
		}
		var in testTopUp
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"amount": in.Amount * 2, "method": in.Method})
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	var out testTopUp
	if err := client.PostJSON(context.Background(), "/balance/topup", testTopUp{Amount: 50, Method: "stars"}, &out); err != nil {
		t.Fatalf("PostJSON() returned error: %v", err)
	}
	if out.Amount != 100 || out.Method != "stars" {
		t.Errorf("Unexpected response %+v", out)
	}
}

func TestPutAndPatchJSON(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	ctx := context.Background()
	if err := client.PutJSON(ctx, "/settings", map[string]bool{"autopay": true}, nil); err != nil {
		t.Fatalf("PutJSON() returned error: %v", err)
	}
	if err := client.PatchJSON(ctx, "/settings", map[string]bool{"autopay": false}, nil); err != nil {
		t.Fatalf("PatchJSON() returned error: %v", err)
	}
	if strings.Join(methods, ",") != "PUT,PATCH" {
		t.Errorf("Unexpected methods %v", methods)
	}
}

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":1,"username":"a"}`))
	}))
	defer server.Close()

	client := New()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}

	var profile testProfile
	if err := client.DoJSON(req, &profile); err != nil {
		t.Fatalf("DoJSON() returned error: %v", err)
	}
	if profile.Username != "a" {
		t.Errorf("Expected username a, got %q", profile.Username)
	}
}

func TestJSONErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not found"}`))
	}))
	defer server.Close()

	client := New(WithRequestIDGenerator(func() string { return "req-42" }))
	var profile testProfile
	err := client.GetJSON(context.Background(), server.URL, &profile)
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected ClientError, got %T", err)
	}
	if clientErr.Type != ErrorTypeHTTP || clientErr.StatusCode != http.StatusNotFound {
		t.Errorf("Unexpected error %+v", clientErr)
	}
	if !strings.Contains(err.Error(), "HTTP error 404") {
		t.Errorf("Expected message to contain HTTP error 404, got %q", err.Error())
	}
	if clientErr.RequestID != "req-42" {
		t.Errorf("Expected request id req-42, got %q", clientErr.RequestID)
	}
}

func TestJSONInvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	var profile testProfile
	err := New().GetJSON(context.Background(), server.URL, &profile)
	if err == nil || !strings.Contains(err.Error(), "failed to unmarshal response") {
		t.Errorf("Expected unmarshal error, got %v", err)
	}
}

func TestJSONEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	profile := testProfile{ID: 99}
	if err := New().GetJSON(context.Background(), server.URL, &profile); err != nil {
		t.Fatalf("GetJSON() returned error: %v", err)
	}
	if profile.ID != 99 {
		t.Errorf("Expected empty body to leave target untouched, got %+v", profile)
	}
}

type upperUnmarshaler struct {
	calls int
}

func (u *upperUnmarshaler) Unmarshal(data []byte, v interface{}) error {
	u.calls++
	return json.Unmarshal([]byte(strings.ToLower(string(data))), v)
}

func TestCustomUnmarshaler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"USERNAME":"BEDOLAGA"}`))
	}))
	defer server.Close()

	unmarshaler := &upperUnmarshaler{}
	client := New(WithUnmarshaler(unmarshaler))
	var profile testProfile
	if err := client.GetJSON(context.Background(), server.URL, &profile); err != nil {
		t.Fatalf("GetJSON() returned error: %v", err)
	}
	if unmarshaler.calls != 1 || profile.Username != "bedolaga" {
		t.Errorf("Expected custom unmarshaler to decode, got %+v (calls=%d)", profile, unmarshaler.calls)
	}
}

func TestPostJSONWithNilBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			t.Errorf("Expected empty body, got length %d", r.ContentLength)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("Expected no Content-Type without body, got %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var out map[string]bool
	if err := New().PostJSON(context.Background(), server.URL, nil, &out); err != nil {
		t.Fatalf("PostJSON() returned error: %v", err)
	}
	if !out["ok"] {
		t.Errorf("Unexpected response %v", out)
	}
}

func TestJSONReplaysAfterRefresh(t *testing.T) {
	revoked := mintToken(t, "user-1", time.Now().Add(time.Hour))
	backend := newFakeCabinet(t, "rotated")
	client := New(
		WithBaseURL(backend.baseURL()),
		WithSession(Session{AccessToken: revoked, RefreshToken: "refresh-1"}),
	)

	var out map[string]bool
	if err := client.PostJSON(context.Background(), "/cabinet/promo/activate", map[string]string{"code": "X"}, &out); err != nil {
		t.Fatalf("PostJSON() returned error: %v", err)
	}
	if !out["ok"] {
		t.Errorf("Unexpected response %v", out)
	}
	if backend.body(1) != `{"code":"X"}` {
		t.Errorf("Expected JSON body replayed, got %q", backend.body(1))
	}
}
