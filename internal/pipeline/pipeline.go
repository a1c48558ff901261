// Package pipeline drives checkpointed ingestion: fetch PDFs, parse
// full text, and feed papers to the knowledge base in fixed batches so
// an interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/matsen/paperkb/internal/config"
	"github.com/matsen/paperkb/internal/kb"
	"github.com/matsen/paperkb/internal/paper"
	"github.com/matsen/paperkb/internal/pdf"
)

// DefaultBatchSize is how many papers one ingest checkpoint covers.
const DefaultBatchSize = 20

// Fetcher downloads a paper's PDF to dest.
type Fetcher interface {
	DownloadPDF(ctx context.Context, p *paper.Paper, dest string) error
}

// Parser extracts full text from a PDF on disk.
type Parser interface {
	Parse(path string, maxPages int) (string, error)
}

// HTTPFetcher downloads PDFs from each paper's pdf_url.
type HTTPFetcher struct {
	Client *http.Client
}

// DownloadPDF implements Fetcher.
func (f *HTTPFetcher) DownloadPDF(ctx context.Context, p *paper.Paper, dest string) error {
	if strings.TrimSpace(p.PDFURL) == "" {
		return fmt.Errorf("paper %s has no pdf_url", p.ID)
	}
	return pdf.Fetch(ctx, f.Client, p.PDFURL, dest)
}

// ExtractParser parses PDFs with the text extractor.
type ExtractParser struct{}

// Parse implements Parser.
func (ExtractParser) Parse(path string, maxPages int) (string, error) {
	return pdf.ExtractText(path, maxPages)
}

// Stats summarizes one pipeline run.
type Stats struct {
	Batches     int            `json:"batches"`
	Skipped     int            `json:"skipped"`
	Fetched     int            `json:"fetched"`
	FetchFailed int            `json:"fetch_failed"`
	Parsed      int            `json:"parsed"`
	ParseFailed int            `json:"parse_failed"`
	Ingest      kb.IngestStats `json:"ingest"`
}

// Pipeline runs fetch-parse-ingest over a paper list.
type Pipeline struct {
	kb        *kb.KnowledgeBase
	fetcher   Fetcher
	parser    Parser
	batchSize int
	maxPages  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFetcher sets the PDF fetcher. Without one, papers missing a local
// PDF are ingested metadata-only.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// WithParser sets the PDF parser. Without one, full text is never
// extracted.
func WithParser(pr Parser) Option {
	return func(p *Pipeline) {
		p.parser = pr
	}
}

// WithBatchSize sets the checkpoint batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxPages bounds how many pages the parser reads per PDF.
func WithMaxPages(n int) Option {
	return func(p *Pipeline) {
		p.maxPages = n
	}
}

// New creates a pipeline over an open knowledge base.
func New(base *kb.KnowledgeBase, opts ...Option) *Pipeline {
	p := &Pipeline{
		kb:        base,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes papers in sequential batches. Papers whose full text is
// already indexed are skipped entirely, so a restarted run picks up
// after the last committed batch. Each batch's ingest is the
// checkpoint; cancellation between batches loses at most the batch in
// flight.
func (p *Pipeline) Run(ctx context.Context, papers []*paper.Paper) (*Stats, error) {
	stats := &Stats{}
	indexed := p.kb.IDsWithFullText()
	pdfDir := config.PDFPath(p.kb.Dir())

	for start := 0; start < len(papers); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + p.batchSize
		if end > len(papers) {
			end = len(papers)
		}

		var batch []*paper.Paper
		for _, pap := range papers[start:end] {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if indexed[pap.ID] {
				stats.Skipped++
				continue
			}
			p.preparePaper(ctx, pap, pdfDir, stats)
			batch = append(batch, pap)
		}
		if len(batch) == 0 {
			continue
		}

		ingestStats, err := p.kb.Ingest(ctx, batch)
		if ingestStats != nil {
			stats.Ingest.Papers += ingestStats.Papers
			stats.Ingest.PapersFailed += ingestStats.PapersFailed
			stats.Ingest.ChunksWritten += ingestStats.ChunksWritten
			stats.Ingest.PaperVectors += ingestStats.PaperVectors
			stats.Ingest.EmbeddingsFailed += ingestStats.EmbeddingsFailed
		}
		if err != nil {
			return stats, fmt.Errorf("ingesting batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
	}
	return stats, nil
}

// preparePaper fills in PDFPath and Content where possible. Fetch and
// parse failures degrade the paper to metadata-only, never abort the
// run.
func (p *Pipeline) preparePaper(ctx context.Context, pap *paper.Paper, pdfDir string, stats *Stats) {
	dest := pdf.PaperPath(pdfDir, pap.ID)

	if pap.PDFPath == "" {
		if _, err := os.Stat(dest); err == nil {
			pap.PDFPath = dest
		} else if p.fetcher != nil && pap.PDFURL != "" {
			if err := p.fetcher.DownloadPDF(ctx, pap, dest); err != nil {
				stats.FetchFailed++
			} else {
				pap.PDFPath = dest
				stats.Fetched++
			}
		}
	}

	if p.parser != nil && !pap.HasContent() && pap.PDFPath != "" {
		content, err := p.parser.Parse(pap.PDFPath, p.maxPages)
		if err != nil {
			stats.ParseFailed++
			return
		}
		pap.Content = content
		stats.Parsed++
	}
}
