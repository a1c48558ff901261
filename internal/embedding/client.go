package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the default OpenAI-compatible API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the default embedding model.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimensions is the output size of the default model.
	DefaultDimensions = 1536

	// DefaultBatchSize is how many texts go in one request.
	DefaultBatchSize = 64

	// MaxBatchSize caps any configured batch size.
	MaxBatchSize = 256

	// DefaultMaxRetries bounds retry attempts on rate limits.
	DefaultMaxRetries = 8

	// DefaultTimeout is the timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMinInterval spaces out requests process-wide.
	DefaultMinInterval = 100 * time.Millisecond

	// apiPathEmbeddings is the embeddings endpoint path.
	apiPathEmbeddings = "/embeddings"

	defaultBaseDelay = time.Second
	defaultMaxDelay  = 60 * time.Second
)

// Pacing limiters are shared process-wide, keyed by interval, so
// concurrent ingests hitting the same endpoint config do not multiply
// the request rate, and one fast client cannot speed up a slow one.
var (
	throttleMu sync.Mutex
	throttles  = make(map[time.Duration]*rate.Limiter)
)

// sharedThrottle returns the process-wide limiter enforcing the given
// minimum interval between requests.
func sharedThrottle(interval time.Duration) *rate.Limiter {
	throttleMu.Lock()
	defer throttleMu.Unlock()

	l, ok := throttles[interval]
	if !ok {
		l = rate.NewLimiter(rate.Every(interval), 1)
		throttles[interval] = l
	}
	return l
}

// Client generates embeddings via an OpenAI-compatible /v1/embeddings
// endpoint. It retries rate-limited requests with exponential backoff and
// splits batches the server rejects as too large.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	dimensions  int
	batchSize   int
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	minInterval time.Duration
	throttle    *rate.Limiter
	client      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API root, e.g. "https://api.openai.com/v1".
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithDimensions sets the expected vector dimensions.
func WithDimensions(dims int) Option {
	return func(c *Client) {
		c.dimensions = dims
	}
}

// WithBatchSize sets how many texts go in one request, clamped to
// [1, MaxBatchSize].
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		if n > MaxBatchSize {
			n = MaxBatchSize
		}
		c.batchSize = n
	}
}

// WithMaxRetries sets how many times a rate-limited request is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithMinInterval sets the process-wide minimum spacing between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.minInterval = d
		}
	}
}

// NewClient creates a new embedding client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		dimensions:  DefaultDimensions,
		batchSize:   DefaultBatchSize,
		maxRetries:  DefaultMaxRetries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		minInterval: DefaultMinInterval,
		client:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.throttle = sharedThrottle(c.minInterval)

	return c
}

// ModelName returns the name of the embedding model.
func (c *Client) ModelName() string {
	return c.model
}

// Dimensions returns the expected vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// BatchSize returns the configured request batch size.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// EmbedBatch generates embeddings for the given texts, in order. Rate
// limits are retried internally; a batch the server rejects as too large
// is split at the limit the server reports and reassembled.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	cleaned := make([]string, len(texts))
	for i, t := range texts {
		// Embedding endpoints perform worse on raw newlines.
		cleaned[i] = strings.ReplaceAll(t, "\n", " ")
	}

	vecs, err := c.embedWithRetry(ctx, cleaned)
	if err == nil {
		return vecs, nil
	}

	// The server may enforce a smaller batch than we asked for and only
	// reveal the limit in the rejection. Re-send in slices of that size.
	limit, ok := serverBatchLimit(err)
	if !ok || limit >= len(cleaned) {
		return nil, err
	}

	out := make([][]float32, 0, len(cleaned))
	for start := 0; start < len(cleaned); start += limit {
		end := start + limit
		if end > len(cleaned) {
			end = len(cleaned)
		}
		part, err := c.embedWithRetry(ctx, cleaned[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding sub-batch %d-%d: %w", start, end, err)
		}
		out = append(out, part...)
	}
	return out, nil
}

// embedWithRetry sends one embeddings request, retrying 429 responses
// with exponential backoff and honoring Retry-After when present.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := c.doEmbed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if !IsRateLimited(err) || attempt == c.maxRetries {
			return nil, err
		}

		if err := sleepContext(ctx, c.retryDelay(err, attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryDelay computes the wait before the next attempt: the server's
// Retry-After if it gave one, otherwise exponential backoff, both with
// jitter so parallel workers do not retry in lockstep.
func (c *Client) retryDelay(err error, attempt int) time.Duration {
	delay := c.baseDelay << attempt
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		delay = apiErr.RetryAfter
	}

	jitter := 0.85 + 0.3*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{
		Model: c.model,
		Input: texts,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPathEmbeddings, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// Responses carry an explicit index; never trust array order.
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(d.Embedding), c.dimensions)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}

// newAPIError builds an APIError from a non-200 response, pulling the
// message out of the standard {"error": {"message": ...}} envelope when
// the body has one.
func newAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
	}

	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// embedRequest is the request body for the embeddings endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the response from the embeddings endpoint.
type embedResponse struct {
	Data []embedDatum `json:"data"`
}

// embedDatum is one embedding in the response.
type embedDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}
