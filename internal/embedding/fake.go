package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// MinFakeDimensions is the smallest vector a fake provider emits.
const MinFakeDimensions = 16

// FakeProvider derives vectors from a hash of the input text. Identical
// text always maps to an identical vector, so tests and offline runs get
// stable nearest-neighbor results without a network.
type FakeProvider struct {
	dimensions int
}

// NewFakeProvider creates a fake provider with the given dimensions,
// floored at MinFakeDimensions.
func NewFakeProvider(dims int) *FakeProvider {
	if dims < MinFakeDimensions {
		dims = MinFakeDimensions
	}
	return &FakeProvider{dimensions: dims}
}

// EmbedBatch derives one vector per text.
func (p *FakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.derive(t)
	}
	return out, nil
}

// derive stretches repeated hashes of the text into p.dimensions values
// in [0, 1).
func (p *FakeProvider) derive(text string) []float32 {
	need := p.dimensions * 4
	buf := make([]byte, 0, need+sha256.Size)
	for counter := 0; len(buf) < need; counter++ {
		sum := sha256.Sum256([]byte(text + strconv.Itoa(counter)))
		buf = append(buf, sum[:]...)
	}

	vec := make([]float32, p.dimensions)
	for i := range vec {
		u := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		vec[i] = float32(u%1_000_000) / 1_000_000
	}
	return vec
}

// ModelName returns the name of the embedding model.
func (p *FakeProvider) ModelName() string {
	return "fake-sha256"
}

// Dimensions returns the expected vector dimensions.
func (p *FakeProvider) Dimensions() int {
	return p.dimensions
}
