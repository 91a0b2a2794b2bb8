package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected method GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/test" {
			t.Errorf("Expected path /api/test, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Test-Header") != "test-value" {
			t.Errorf("Expected header X-Test-Header: test-value, got %s", r.Header.Get("X-Test-Header"))
		}
		if r.Header.Get("User-Agent") != "k7-test" {
			t.Errorf("Expected User-Agent k7-test, got %s", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"success"}`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithHeader("User-Agent", "k7-test"),
		WithBaseURL(server.URL+"/api"),
	)

	req := NewRequest("GET", "/test").WithHeader("X-Test-Header", "test-value")
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Error executing request: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if resp.Header("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type: application/json, got %s", resp.Header("Content-Type"))
	}
	if resp.BodyString() != `{"message":"success"}` {
		t.Errorf("Unexpected body %q", resp.BodyString())
	}
	if resp.Duration() <= 0 {
		t.Error("Expected positive total time")
	}
	if resp.BytesSent <= 0 || resp.BytesReceived <= int64(len(resp.Body)) {
		t.Errorf("Unexpected byte counts sent=%d received=%d", resp.BytesSent, resp.BytesReceived)
	}
}

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"accessToken":"abc","user":{"id":7}}`))
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Post(context.Background(), server.URL+"/auth/login", map[string]string{"email": "a@b.c"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := resp.Field("accessToken").String(); got != "abc" {
		t.Errorf("Field(accessToken) = %q, want abc", got)
	}
	if got := resp.Field("$.user.id").Int(); got != 7 {
		t.Errorf("Field($.user.id) = %d, want 7", got)
	}

	type login struct {
		AccessToken string `json:"accessToken"`
	}
	decoded, err := Decode[login](resp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.AccessToken != "abc" {
		t.Errorf("AccessToken = %q", decoded.AccessToken)
	}
}

func TestClient_TimeoutReturnsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(WithTimeout(time.Second))
	resp, err := client.Do(context.Background(), NewRequest("GET", server.URL).WithTimeout(20*time.Millisecond))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || !reqErr.Timeout {
		t.Errorf("Expected timeout RequestError, got %v", err)
	}
	if resp == nil {
		t.Fatal("Expected a response carrying timing")
	}
	if resp.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", resp.StatusCode)
	}
	if resp.Duration() < 20*time.Millisecond {
		t.Errorf("Duration = %v, want >= 20ms", resp.Duration())
	}
}

func TestRequest_ResolveURL(t *testing.T) {
	tests := []struct {
		base, url, want string
		wantErr         bool
	}{
		{"http://api.test", "/auth/login", "http://api.test/auth/login", false},
		{"http://api.test/v1/", "content/upload", "http://api.test/v1/content/upload", false},
		{"http://api.test", "https://other.test/x", "https://other.test/x", false},
		{"http://api.test", "/search?q=1", "http://api.test/search?q=1", false},
		{"", "/relative", "", true},
	}
	for _, tt := range tests {
		got, err := NewRequest("GET", tt.url).ResolveURL(tt.base)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ResolveURL(%q, %q) expected error", tt.base, tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveURL(%q, %q): %v", tt.base, tt.url, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.base, tt.url, got, tt.want)
		}
	}
}

func TestGjsonPath(t *testing.T) {
	tests := map[string]string{
		"accessToken":          "accessToken",
		"$":                    "@this",
		"$.data.token":         "data.token",
		"$.users[0].name":      "users.0.name",
		"$['data']['token']":   "data.token",
		`$["items"][2]`:        "items.2",
		"data.items.#.id":      "data.items.#.id",
	}
	for in, want := range tests {
		if got := GjsonPath(in); got != want {
			t.Errorf("GjsonPath(%q) = %q, want %q", in, got, want)
		}
	}
}
