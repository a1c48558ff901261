package kb

import (
	"context"
	"fmt"
	"strings"

	"github.com/matsen/paperkb/internal/embedding"
	"github.com/matsen/paperkb/internal/paper"
	"github.com/matsen/paperkb/internal/vecindex"
)

// Chunk sources, in the order they are derived from a paper.
const (
	SourceMeta          = "meta"
	SourceTitleAbstract = "title_abstract"
	SourceTLDR          = "tldr"
	SourceDecision      = "decision"
	SourceRebuttal      = "rebuttal"
	SourceFullText      = "full_text"

	reviewSourcePrefix = "review_"
)

// Caps applied when synthesizing the meta block.
const (
	metaAuthorCap  = 25
	metaKeywordCap = 30
)

// ChunkID builds the stable id downstream consumers cite:
// {paper_id}::{source}::{index}.
func ChunkID(paperID, source string, index int) string {
	return fmt.Sprintf("%s::%s::%d", paperID, source, index)
}

// ReviewSource returns the chunk source name for the n-th review.
func ReviewSource(n int) string {
	return fmt.Sprintf("%s%d", reviewSourcePrefix, n)
}

// IsReviewSource reports whether a chunk source names a review.
func IsReviewSource(source string) bool {
	return strings.HasPrefix(source, reviewSourcePrefix)
}

// IngestStats summarizes one Ingest call.
type IngestStats struct {
	Papers           int `json:"papers"`
	PapersFailed     int `json:"papers_failed"`
	ChunksWritten    int `json:"chunks_written"`
	PaperVectors     int `json:"paper_vectors"`
	EmbeddingsFailed int `json:"embeddings_failed"`
}

// sourceText is one derived text stream of a paper before chunking.
type sourceText struct {
	source string
	text   string
}

// Ingest upserts metadata and reviews for each paper, invalidates the
// chunks its payload refreshes, re-chunks and re-embeds them, and writes
// the vectors. A failure on one paper skips that paper, not the batch.
// Metadata commits before vectors, so an interruption leaves metadata
// ahead of the index, never behind it.
func (kb *KnowledgeBase) Ingest(ctx context.Context, papers []*paper.Paper) (*IngestStats, error) {
	stats := &IngestStats{}

	for i, p := range papers {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if kb.progress != nil {
			kb.progress.OnProgress(i+1, len(papers))
		}

		id := strings.TrimSpace(p.ID)
		if id == "" {
			stats.PapersFailed++
			continue
		}

		if err := kb.ingestOne(ctx, id, p, stats); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.PapersFailed++
			continue
		}
		stats.Papers++
	}
	return stats, nil
}

func (kb *KnowledgeBase) ingestOne(ctx context.Context, id string, p *paper.Paper, stats *IngestStats) error {
	if err := kb.meta.UpsertPaper(p); err != nil {
		return fmt.Errorf("upserting paper %s: %w", id, err)
	}
	if err := kb.meta.UpsertReviews(id, p.Reviews, false); err != nil {
		return fmt.Errorf("upserting reviews for %s: %w", id, err)
	}

	if err := kb.invalidateChunks(id, p); err != nil {
		return fmt.Errorf("invalidating chunks for %s: %w", id, err)
	}

	sources := kb.deriveSources(p)
	var rows []vecindex.Row
	var texts []string
	for _, st := range sources {
		for idx, fragment := range kb.chunker.Split(st.text) {
			rows = append(rows, vecindex.Row{
				ID:         ChunkID(id, st.source, idx),
				PaperID:    id,
				Source:     st.source,
				ChunkIndex: idx,
				Text:       fragment,
			})
			texts = append(texts, fragment)
		}
	}

	vecs := embedding.EmbedMany(ctx, kb.provider, texts, kb.batchSize)
	if err := ctx.Err(); err != nil {
		return err
	}

	embedded := rows[:0]
	for i, v := range vecs {
		if v == nil {
			stats.EmbeddingsFailed++
			continue
		}
		rows[i].Vector = v
		embedded = append(embedded, rows[i])
	}
	if len(embedded) > 0 {
		if err := kb.chunks.Upsert(embedded); err != nil {
			return fmt.Errorf("writing chunks for %s: %w", id, err)
		}
		stats.ChunksWritten += len(embedded)
	}

	if err := kb.upsertPaperVector(ctx, id, p, stats); err != nil {
		return err
	}
	return nil
}

// upsertPaperVector writes the paper-level summary row used for coarse
// paper search.
func (kb *KnowledgeBase) upsertPaperVector(ctx context.Context, id string, p *paper.Paper, stats *IngestStats) error {
	summary := titleAbstract(p)
	if summary == "" {
		summary = kb.metaBlock(p)
	}

	vecs := embedding.EmbedMany(ctx, kb.provider, []string{summary}, kb.batchSize)
	if err := ctx.Err(); err != nil {
		return err
	}
	if vecs[0] == nil {
		stats.EmbeddingsFailed++
		return nil
	}

	row := vecindex.Row{
		ID:       id,
		PaperID:  id,
		Title:    p.Title,
		Abstract: p.Abstract,
		Rating:   p.Rating,
		Year:     p.Year,
		Vector:   vecs[0],
	}
	if err := kb.papers.Upsert([]vecindex.Row{row}); err != nil {
		return fmt.Errorf("writing paper vector for %s: %w", id, err)
	}
	stats.PaperVectors++
	return nil
}

// invalidateChunks drops the chunks this payload refreshes. A payload
// carrying full text replaces everything; otherwise only the sources the
// payload actually provides are dropped, so previously committed
// full-text chunks survive a metadata-only refresh.
func (kb *KnowledgeBase) invalidateChunks(id string, p *paper.Paper) error {
	if p.HasContent() {
		_, err := kb.chunks.Delete(func(r vecindex.Row) bool {
			return r.PaperID == id
		})
		return err
	}

	refreshed := map[string]bool{
		SourceMeta:          true,
		SourceTitleAbstract: true,
		SourceTLDR:          true,
	}
	if p.DecisionText != "" {
		refreshed[SourceDecision] = true
	}
	if p.RebuttalText != "" {
		refreshed[SourceRebuttal] = true
	}
	dropReviews := len(p.Reviews) > 0

	_, err := kb.chunks.Delete(func(r vecindex.Row) bool {
		if r.PaperID != id {
			return false
		}
		if refreshed[r.Source] {
			return true
		}
		return dropReviews && IsReviewSource(r.Source)
	})
	return err
}

// deriveSources builds the text streams to chunk, in stable order.
func (kb *KnowledgeBase) deriveSources(p *paper.Paper) []sourceText {
	sources := []sourceText{{SourceMeta, kb.metaBlock(p)}}

	if ta := titleAbstract(p); ta != "" {
		sources = append(sources, sourceText{SourceTitleAbstract, ta})
	}
	if strings.TrimSpace(p.TLDR) != "" {
		sources = append(sources, sourceText{SourceTLDR, p.TLDR})
	}
	if strings.TrimSpace(p.DecisionText) != "" {
		sources = append(sources, sourceText{SourceDecision, p.DecisionText})
	}
	if strings.TrimSpace(p.RebuttalText) != "" {
		sources = append(sources, sourceText{SourceRebuttal, p.RebuttalText})
	}

	limit := kb.reviewLimit
	if limit > len(p.Reviews) {
		limit = len(p.Reviews)
	}
	for i := 0; i < limit; i++ {
		if text := p.Reviews[i].Narrative(); strings.TrimSpace(text) != "" {
			sources = append(sources, sourceText{ReviewSource(i), text})
		}
	}

	if p.HasContent() {
		sources = append(sources, sourceText{SourceFullText, p.Content})
	}
	return sources
}

// metaBlock synthesizes the structured summary chunk every paper gets,
// so purely structured queries ("accepted 2024 papers about X") have
// text to match against.
func (kb *KnowledgeBase) metaBlock(p *paper.Paper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Paper ID: %s\n", p.ID)
	if p.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
	}
	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(capList(p.Authors, metaAuthorCap), ", "))
	}
	if len(p.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(capList(p.Keywords, metaKeywordCap), ", "))
	}
	if p.Year != nil {
		fmt.Fprintf(&b, "Year: %d\n", *p.Year)
	}
	if p.VenueID != "" {
		fmt.Fprintf(&b, "Venue: %s\n", p.VenueID)
	}
	if p.Decision != "" {
		fmt.Fprintf(&b, "Decision: %s\n", p.Decision)
	}
	if p.DecisionText != "" {
		b.WriteString("Decision Note: yes\n")
	}
	if p.Presentation != "" && p.Presentation != paper.PresentationUnknown {
		fmt.Fprintf(&b, "Presentation: %s\n", p.Presentation)
	}
	if p.Rating != nil {
		fmt.Fprintf(&b, "Rating: %.2f\n", *p.Rating)
	}
	if p.PDFURL != "" {
		fmt.Fprintf(&b, "PDF URL: %s\n", p.PDFURL)
	}
	if p.PDFPath != "" {
		fmt.Fprintf(&b, "PDF Path: %s\n", p.PDFPath)
	}
	if len(p.Reviews) > 0 {
		fmt.Fprintf(&b, "Reviews: %d\n", len(p.Reviews))
	}
	return b.String()
}

func titleAbstract(p *paper.Paper) string {
	return strings.TrimSpace(strings.TrimSpace(p.Title) + "\n\n" + strings.TrimSpace(p.Abstract))
}

func capList(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}
