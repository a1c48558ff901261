// Package embedding turns batches of text into vectors via an
// OpenAI-compatible embeddings endpoint, owning retry, backoff and
// rate-limit handling so callers never see a transient 429.
package embedding

import "context"

// Provider generates embeddings from text.
type Provider interface {
	// EmbedBatch generates embeddings for the given texts. The result has
	// the same length and order as the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName returns the name of the embedding model.
	ModelName() string

	// Dimensions returns the expected vector dimensions.
	Dimensions() int
}

// EmbedMany embeds texts in batches of batchSize, preserving input order.
// A batch that still fails after the provider's own retries yields nil
// vectors for its items instead of aborting the whole run; callers must
// treat a nil vector as "not embedded" and skip that item.
func EmbedMany(ctx context.Context, p Provider, texts []string, batchSize int) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := p.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			continue // items in this batch stay nil
		}
		for i, v := range vecs {
			if len(v) > 0 {
				out[start+i] = v
			}
		}
	}
	return out
}
