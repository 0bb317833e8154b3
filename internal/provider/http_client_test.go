package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(url string, timeout time.Duration) *HTTPClient {
	return NewHTTPClient(map[string]Endpoint{
		"remove.bg": {URL: url, APIKey: "test-key"},
		"nokey":     {URL: url},
	}, timeout, zap.NewNop())
}

func TestRemoveReturnsProviderBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if _, _, err := r.FormFile("image_file"); err != nil {
			t.Errorf("missing image_file part: %v", err)
		}
		_, _ = w.Write([]byte("processed-png"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second)
	out, err := client.Remove(context.Background(), "remove.bg", []byte("input"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if string(out) != "processed-png" {
		t.Fatalf("unexpected body: %q", out)
	}
}

func TestRemoveRejectsUnknownProvider(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0", time.Second)
	if _, err := client.Remove(context.Background(), "nonexistent", []byte("x")); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRemoveRejectsMissingAPIKey(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0", time.Second)
	if _, err := client.Remove(context.Background(), "nokey", []byte("x")); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestRemoveErrorsOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second)
	if _, err := client.Remove(context.Background(), "remove.bg", []byte("x")); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestRemoveErrorsOnEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second)
	if _, err := client.Remove(context.Background(), "remove.bg", []byte("x")); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestRemoveTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Remove(context.Background(), "remove.bg", []byte("x"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout was not bounded, took %v", elapsed)
	}
}
