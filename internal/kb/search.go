package kb

import (
	"context"
	"fmt"

	"github.com/matsen/paperkb/internal/paper"
	"github.com/matsen/paperkb/internal/vecindex"
)

// Search limits.
const (
	DefaultSearchLimit = 10

	// semanticOverFetchFactor controls how many chunk hits paper-level
	// search pulls before collapsing to one hit per paper.
	semanticOverFetchFactor = 8
	semanticOverFetchFloor  = 20
)

// ChunkHit is one chunk-level search result, enriched with paper
// metadata so a caller never needs a second lookup to render it.
type ChunkHit struct {
	ChunkID    string  `json:"chunk_id"`
	PaperID    string  `json:"paper_id"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float32 `json:"distance"`

	Title        string             `json:"title,omitempty"`
	Authors      []string           `json:"authors,omitempty"`
	Keywords     []string           `json:"keywords,omitempty"`
	Year         *int               `json:"year,omitempty"`
	VenueID      string             `json:"venue_id,omitempty"`
	Rating       *float64           `json:"rating,omitempty"`
	Decision     string             `json:"decision,omitempty"`
	Presentation paper.Presentation `json:"presentation,omitempty"`
}

// PaperHit is one paper-level search result: the paper plus the closest
// chunk that put it in the ranking.
type PaperHit struct {
	PaperID  string  `json:"paper_id"`
	Distance float32 `json:"distance"`

	Title        string             `json:"title,omitempty"`
	Abstract     string             `json:"abstract,omitempty"`
	Authors      []string           `json:"authors,omitempty"`
	Year         *int               `json:"year,omitempty"`
	VenueID      string             `json:"venue_id,omitempty"`
	Rating       *float64           `json:"rating,omitempty"`
	Decision     string             `json:"decision,omitempty"`
	Presentation paper.Presentation `json:"presentation,omitempty"`

	BestChunkID     string `json:"best_chunk_id,omitempty"`
	BestChunkSource string `json:"best_chunk_source,omitempty"`
	BestChunkText   string `json:"best_chunk_text,omitempty"`
}

// SearchChunks embeds the query and returns the nearest chunks.
func (kb *KnowledgeBase) SearchChunks(ctx context.Context, query string, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vec, err := kb.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := kb.chunks.Search(vec, limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	hits := make([]ChunkHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, chunkHitFromRow(m.Row, m.Distance))
	}
	kb.enrichChunkHits(hits)
	return hits, nil
}

// SearchSemantic embeds the query, over-fetches chunk hits, keeps the
// closest chunk per paper, and returns papers ranked by that distance.
func (kb *KnowledgeBase) SearchSemantic(ctx context.Context, query string, limit int) ([]PaperHit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	overFetch := limit * semanticOverFetchFactor
	if overFetch < semanticOverFetchFloor {
		overFetch = semanticOverFetchFloor
	}

	vec, err := kb.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := kb.chunks.Search(vec, overFetch)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	// Matches arrive distance-ascending, so the first chunk seen for a
	// paper is its best.
	seen := make(map[string]bool)
	hits := make([]PaperHit, 0, limit)
	for _, m := range matches {
		if seen[m.PaperID] {
			continue
		}
		seen[m.PaperID] = true
		hits = append(hits, PaperHit{
			PaperID:         m.PaperID,
			Distance:        m.Distance,
			BestChunkID:     m.ID,
			BestChunkSource: m.Source,
			BestChunkText:   m.Text,
		})
		if len(hits) == limit {
			break
		}
	}
	kb.enrichPaperHits(hits)
	return hits, nil
}

// SearchPapers ranks papers by their summary vector alone, skipping the
// chunk table. Coarser than SearchSemantic but cheap on large corpora.
func (kb *KnowledgeBase) SearchPapers(ctx context.Context, query string, limit int) ([]PaperHit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vec, err := kb.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := kb.papers.Search(vec, limit)
	if err != nil {
		return nil, fmt.Errorf("searching papers: %w", err)
	}

	hits := make([]PaperHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, PaperHit{
			PaperID:  m.ID,
			Distance: m.Distance,
			Title:    m.Title,
			Abstract: m.Abstract,
			Rating:   m.Rating,
			Year:     m.Year,
		})
	}
	kb.enrichPaperHits(hits)
	return hits, nil
}

func (kb *KnowledgeBase) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := kb.provider.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding query: empty result")
	}
	return vecs[0], nil
}

func chunkHitFromRow(r vecindex.Row, distance float32) ChunkHit {
	return ChunkHit{
		ChunkID:    r.ID,
		PaperID:    r.PaperID,
		Source:     r.Source,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		Distance:   distance,
	}
}

func (h *ChunkHit) attachPaper(p *paper.Paper) {
	h.Title = p.Title
	h.Authors = p.Authors
	h.Keywords = p.Keywords
	h.Year = p.Year
	h.VenueID = p.VenueID
	h.Rating = p.Rating
	h.Decision = p.Decision
	h.Presentation = p.Presentation
}

func (kb *KnowledgeBase) enrichChunkHits(hits []ChunkHit) {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.PaperID)
	}
	papers, err := kb.meta.GetPapers(ids)
	if err != nil {
		return // hits stay usable without metadata
	}
	for i := range hits {
		if p, ok := papers[hits[i].PaperID]; ok {
			hits[i].attachPaper(p)
		}
	}
}

func (kb *KnowledgeBase) enrichPaperHits(hits []PaperHit) {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.PaperID)
	}
	papers, err := kb.meta.GetPapers(ids)
	if err != nil {
		return
	}
	for i := range hits {
		p, ok := papers[hits[i].PaperID]
		if !ok {
			continue
		}
		hits[i].Title = p.Title
		hits[i].Abstract = p.Abstract
		hits[i].Authors = p.Authors
		hits[i].Year = p.Year
		hits[i].VenueID = p.VenueID
		hits[i].Rating = p.Rating
		hits[i].Decision = p.Decision
		hits[i].Presentation = p.Presentation
	}
}
