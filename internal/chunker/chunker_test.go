package chunker

import (
	"strings"
	"testing"
)

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(100, 100)
	if c.OverlapTokens != 20 {
		t.Errorf("expected overlap clamped to 20, got %d", c.OverlapTokens)
	}

	c = New(100, 250)
	if c.OverlapTokens != 20 {
		t.Errorf("expected overlap clamped to 20, got %d", c.OverlapTokens)
	}
}

func TestNew_FloorsMaxTokens(t *testing.T) {
	c := New(10, 2)
	if c.MaxTokens != MinMaxTokens {
		t.Errorf("expected max tokens floored to %d, got %d", MinMaxTokens, c.MaxTokens)
	}
}

func TestSplit_Empty(t *testing.T) {
	c := Default()
	for _, input := range []string{"", "   ", "\n\t  \n"} {
		if got := c.Split(input); got != nil {
			t.Errorf("Split(%q) = %v, want nil", input, got)
		}
	}
}

func TestSplit_ShortTextSingleFragment(t *testing.T) {
	c := Default()
	got := c.Split("  a short abstract about phylogenetics  ")
	if len(got) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(got))
	}
	if got[0] != "a short abstract about phylogenetics" {
		t.Errorf("expected trimmed original text, got %q", got[0])
	}
}

func TestSplit_LongTextCoversInput(t *testing.T) {
	c := New(50, 10)
	text := strings.Repeat("abcdefghij", 100) // 1000 runes, 250 tokens

	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(chunks))
	}

	window := c.MaxTokens * runesPerToken
	overlap := c.OverlapTokens * runesPerToken

	// Every fragment except the last is a full window.
	for i, chunk := range chunks[:len(chunks)-1] {
		if len([]rune(chunk)) != window {
			t.Errorf("fragment %d: expected %d runes, got %d", i, window, len([]rune(chunk)))
		}
	}

	// Consecutive fragments overlap by the configured amount.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-overlap:])
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("fragment %d does not start with the previous fragment's tail", i)
		}
	}

	// The final fragment reaches the end of the text.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Error("final fragment does not reach the end of the text")
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c := New(60, 15)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)

	first := c.Split(text)
	second := c.Split(text)
	if len(first) != len(second) {
		t.Fatalf("fragment counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("fragment %d differs between runs", i)
		}
	}
}

func TestSplit_CustomCounter(t *testing.T) {
	c := New(50, 0)
	c.Count = func(text string) int { return len(strings.Fields(text)) }

	// 30 words: under the limit with the word counter, over with the
	// default rune approximation.
	text := strings.Repeat("immunogenicity ", 30)
	got := c.Split(text)
	if len(got) != 1 {
		t.Errorf("expected single fragment with custom counter, got %d", len(got))
	}
}
