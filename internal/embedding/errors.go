package embedding

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors for embedding operations.
var (
	// ErrRateLimited indicates the service returned 429 on every attempt.
	ErrRateLimited = errors.New("embedding service rate limited")

	// ErrEmptyBatch indicates an embed call with no texts.
	ErrEmptyBatch = errors.New("empty embedding batch")
)

// APIError represents an error response from the embedding service.
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter is the server-suggested wait, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("embedding API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("embedding API error (status %d)", e.StatusCode)
}

// Unwrap lets errors.Is see through to ErrRateLimited for 429 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 429 {
		return ErrRateLimited
	}
	return nil
}

// IsRateLimited checks if an error is a rate limit error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// maxBatchPattern matches server complaints like
// "maximum allowed batch size is 16" in a 4xx error body.
var maxBatchPattern = regexp.MustCompile(`maximum allowed batch size(?:\s+is)?\s+(\d+)`)

// serverBatchLimit extracts the batch size cap a server reported in an
// error, if any. Some providers enforce a smaller batch than advertised
// and only reveal the limit this way.
func serverBatchLimit(err error) (int, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	m := maxBatchPattern.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return 0, false
	}
	limit, convErr := strconv.Atoi(m[1])
	if convErr != nil || limit < 1 {
		return 0, false
	}
	return limit, true
}
