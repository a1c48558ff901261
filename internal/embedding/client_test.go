package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// embedHandler serves the embeddings endpoint, deriving vectors with a
// fake provider so responses stay deterministic.
func embedHandler(t *testing.T, dims int, before func(w http.ResponseWriter, n int) bool) http.HandlerFunc {
	t.Helper()
	fake := NewFakeProvider(dims)
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if before != nil && !before(w, len(req.Input)) {
			return
		}

		var resp embedResponse
		for i, text := range req.Input {
			resp.Data = append(resp.Data, embedDatum{Index: i, Embedding: fake.derive(text)})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}
}

func newTestClient(url string, dims int, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(url),
		WithDimensions(dims),
		WithMinInterval(time.Millisecond),
		WithMaxRetries(3),
	}
	return NewClient(append(base, opts...)...)
}

func TestEmbedBatch_OrderAndDimensions(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 32, nil))
	defer srv.Close()

	c := newTestClient(srv.URL, 32)
	texts := []string{"first", "second", "third"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 32 {
			t.Errorf("vector %d has %d dimensions, want 32", i, len(v))
		}
	}

	// Same input, same vectors.
	again, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("second EmbedBatch failed: %v", err)
	}
	if vecs[0][0] != again[0][0] {
		t.Error("expected identical vectors for identical input")
	}
}

func TestEmbedBatch_RetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(embedHandler(t, 16, func(w http.ResponseWriter, n int) bool {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "rate limit exceeded"}}`)
			return false
		}
		return true
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 16)
	c.baseDelay = time.Millisecond

	vecs, err := c.EmbedBatch(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 requests (429 then success), got %d", calls)
	}
}

func TestEmbedBatch_MinIntervalSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 16, nil))
	defer srv.Close()

	// An interval slower than the default must still be enforced.
	c := NewClient(
		WithBaseURL(srv.URL),
		WithDimensions(16),
		WithMinInterval(300*time.Millisecond),
	)

	if _, err := c.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("first EmbedBatch failed: %v", err)
	}
	start := time.Now()
	if _, err := c.EmbedBatch(context.Background(), []string{"b"}); err != nil {
		t.Fatalf("second EmbedBatch failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("second request fired after %v, want at least ~300ms spacing", elapsed)
	}
}

func TestSharedThrottle_DistinctPerInterval(t *testing.T) {
	slow := NewClient(WithMinInterval(350 * time.Millisecond))
	fast := NewClient(WithMinInterval(time.Millisecond))

	if slow.throttle == fast.throttle {
		t.Error("clients with different intervals must not share a limiter")
	}
	if slow.throttle != sharedThrottle(350*time.Millisecond) {
		t.Error("clients with the same interval should share a limiter")
	}
	// A fast client must not loosen the slow client's pacing.
	if got := slow.throttle.Limit(); got != rate.Every(350*time.Millisecond) {
		t.Errorf("slow limiter rate changed: %v", got)
	}
}

func TestEmbedBatch_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 16, WithMaxRetries(1))
	c.baseDelay = time.Millisecond

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	if !IsRateLimited(err) {
		t.Errorf("expected rate limit error, got %v", err)
	}
}

func TestEmbedBatch_SplitsOnServerBatchLimit(t *testing.T) {
	var sizes []int
	srv := httptest.NewServer(embedHandler(t, 16, func(w http.ResponseWriter, n int) bool {
		sizes = append(sizes, n)
		if n > 2 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": {"message": "maximum allowed batch size is 2"}}`)
			return false
		}
		return true
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 16)
	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vecs))
	}
	// One oversized attempt, then ceil(5/2) = 3 slices.
	if len(sizes) != 4 || sizes[0] != 5 || sizes[1] != 2 || sizes[3] != 1 {
		t.Errorf("unexpected request sizes: %v", sizes)
	}

	// Order is preserved across the split.
	fake := NewFakeProvider(16)
	want := fake.derive("e")
	if vecs[4][0] != want[0] {
		t.Error("split batches reassembled out of order")
	}
}

func TestEmbedBatch_NonRetryableError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 16)
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRateLimited(err) {
		t.Error("401 should not look like a rate limit")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should not retry, got %d calls", calls)
	}
}

func TestEmbedMany_FailedBatchYieldsNilVectors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(embedHandler(t, 16, func(w http.ResponseWriter, n int) bool {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return false
		}
		return true
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 16)
	texts := []string{"a", "b", "c", "d"}
	vecs := EmbedMany(context.Background(), c, texts, 2)
	if len(vecs) != 4 {
		t.Fatalf("expected aligned output, got %d", len(vecs))
	}
	if vecs[0] == nil || vecs[1] == nil {
		t.Error("first batch should have embedded")
	}
	if vecs[2] != nil || vecs[3] != nil {
		t.Error("failed batch should yield nil vectors")
	}
}

func TestFakeProvider_DeterministicAndFloored(t *testing.T) {
	p := NewFakeProvider(4)
	if p.Dimensions() != MinFakeDimensions {
		t.Errorf("expected floor %d, got %d", MinFakeDimensions, p.Dimensions())
	}

	a, err := p.EmbedBatch(context.Background(), []string{"same", "same", "other"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	b, err := p.EmbedBatch(context.Background(), []string{"same"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}

	for i := range a[0] {
		if a[0][i] != a[1][i] || a[0][i] != b[0][i] {
			t.Fatalf("same text produced different vectors at %d", i)
		}
		if a[0][i] < 0 || a[0][i] >= 1 {
			t.Fatalf("component %d out of [0, 1): %f", i, a[0][i])
		}
	}

	same := true
	for i := range a[0] {
		if a[0][i] != a[2][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}
