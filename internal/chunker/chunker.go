// Package chunker splits long text into overlapping, size-bounded fragments
// suitable for embedding.
package chunker

import "strings"

const (
	// DefaultMaxTokens is the default window size in tokens.
	DefaultMaxTokens = 350

	// DefaultOverlapTokens is the default overlap between consecutive windows.
	DefaultOverlapTokens = 60

	// MinMaxTokens is the floor for the window size.
	MinMaxTokens = 50

	// runesPerToken approximates one token as four characters, matching the
	// common heuristic for cl100k-family tokenizers.
	runesPerToken = 4
)

// CountFunc measures text in the size unit used by the embedding model.
type CountFunc func(text string) int

// Chunker produces overlapping fragments from text. The zero value is not
// usable; construct with New.
type Chunker struct {
	MaxTokens     int
	OverlapTokens int

	// Count overrides the default character-based token approximation.
	// It must be consistent with character positions only in aggregate;
	// windowing always happens in approximate character space.
	Count CountFunc
}

// New returns a Chunker with the given window size and overlap.
// maxTokens is floored at MinMaxTokens; an overlap >= maxTokens is clamped
// to maxTokens/5.
func New(maxTokens, overlapTokens int) *Chunker {
	if maxTokens < MinMaxTokens {
		maxTokens = MinMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 5
	}
	return &Chunker{MaxTokens: maxTokens, OverlapTokens: overlapTokens}
}

// Default returns a Chunker with the default window and overlap.
func Default() *Chunker {
	return New(DefaultMaxTokens, DefaultOverlapTokens)
}

// count measures text in tokens.
func (c *Chunker) count(text string) int {
	if c.Count != nil {
		return c.Count(text)
	}
	n := len([]rune(text))
	return (n + runesPerToken - 1) / runesPerToken
}

// Split cuts text into overlapping fragments. Text measuring at most
// MaxTokens is returned as a single trimmed fragment; empty or
// whitespace-only input yields nil. The final fragment always reaches the
// end of the text. Deterministic and side-effect free.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if c.count(text) <= c.MaxTokens {
		return []string{text}
	}

	runes := []rune(text)
	window := c.MaxTokens * runesPerToken
	overlap := c.OverlapTokens * runesPerToken
	if overlap >= window {
		overlap = window / 5
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
