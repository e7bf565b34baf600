package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string, maxRetries int) *Client {
	return NewClient(Config{
		BaseURL: url,
		Token:   "test-token",
		Timeout: 2 * time.Second,
		Retry: RetryConfig{
			MaxRetries: maxRetries,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
	})
}

func TestSimilaritySendsBearerAndDecodes(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/models/all-MiniLM-L6-v2" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[0.82]`))
	}))
	defer server.Close()

	client := testClient(server.URL, 2)
	scores, err := client.Similarity(context.Background(), "all-MiniLM-L6-v2", "a", []string{"b"})
	if err != nil {
		t.Fatalf("Similarity failed: %v", err)
	}
	if len(scores) != 1 || scores[0] != 0.82 {
		t.Fatalf("unexpected scores %v", scores)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("missing bearer header, got %q", gotAuth)
	}
}

func TestCallRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading","estimated_time":2}`))
			return
		}
		_, _ = w.Write([]byte(`[0.5]`))
	}))
	defer server.Close()

	client := testClient(server.URL, 3)
	scores, err := client.Similarity(context.Background(), "m", "a", []string{"b"})
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if scores[0] != 0.5 {
		t.Fatalf("unexpected score %v", scores)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL, 3)
	_, err := client.Similarity(context.Background(), "m", "a", []string{"b"})
	unavailable, ok := IsModelUnavailable(err)
	if !ok {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
	if unavailable.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", unavailable.Attempts)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestCallStopsOnNonRetryableStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer server.Close()

	client := testClient(server.URL, 4)
	_, err := client.Similarity(context.Background(), "m", "a", []string{"b"})
	if _, ok := IsModelUnavailable(err); !ok {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
	if apiErr.Envelope.Message != "bad input" {
		t.Fatalf("unexpected envelope %+v", apiErr.Envelope)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestClassifyPairParsesNestedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[{"label":"ENTAILMENT","score":0.9},{"label":"NEUTRAL","score":0.08},{"label":"CONTRADICTION","score":0.02}]]`))
	}))
	defer server.Close()

	client := testClient(server.URL, 2)
	entries, err := client.ClassifyPair(context.Background(), "nli", "p", "h")
	if err != nil {
		t.Fatalf("ClassifyPair failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Label != "ENTAILMENT" {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestCallHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := testClient(server.URL, 5)
	_, err := client.Similarity(ctx, "m", "a", []string{"b"})
	if _, ok := IsModelUnavailable(err); !ok {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
}
