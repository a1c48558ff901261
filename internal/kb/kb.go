// Package kb ties the metadata store, the vector tables and the
// embedding provider together into one knowledge base instance.
package kb

import (
	"errors"
	"fmt"
	"os"

	"github.com/matsen/paperkb/internal/chunker"
	"github.com/matsen/paperkb/internal/config"
	"github.com/matsen/paperkb/internal/embedding"
	"github.com/matsen/paperkb/internal/metastore"
	"github.com/matsen/paperkb/internal/paper"
	"github.com/matsen/paperkb/internal/pdf"
	"github.com/matsen/paperkb/internal/vecindex"
)

// Errors returned by knowledge base operations.
var (
	ErrNoProvider    = errors.New("no embedding provider configured")
	ErrChunkNotFound = errors.New("chunk not found")
)

// Review count bounds for ingestion.
const (
	DefaultReviewLimit = 10
	MaxReviewLimit     = 50
)

// ProgressReporter receives progress updates during long operations.
type ProgressReporter interface {
	OnProgress(current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(current, total int) {
	f(current, total)
}

// Options configures a KnowledgeBase.
type Options struct {
	// Provider embeds text. Required.
	Provider embedding.Provider

	// Chunker splits long text. Defaults to chunker.Default().
	Chunker *chunker.Chunker

	// BatchSize is the embedding batch size, defaulting to the
	// provider client's default.
	BatchSize int

	// ReviewLimit caps how many reviews per paper are turned into
	// chunks. Zero means DefaultReviewLimit; values above
	// MaxReviewLimit are clamped.
	ReviewLimit int

	// Progress, when set, receives per-paper updates during Ingest.
	Progress ProgressReporter
}

// KnowledgeBase owns one instance directory: the SQLite metadata store,
// the paper and chunk vector tables, and the downloaded PDFs.
type KnowledgeBase struct {
	dir         string
	meta        *metastore.Store
	papers      *vecindex.Table
	chunks      *vecindex.Table
	provider    embedding.Provider
	chunker     *chunker.Chunker
	batchSize   int
	reviewLimit int
	progress    ProgressReporter
}

// Open opens (creating if needed) the knowledge base in dir.
func Open(dir string, opts Options) (*KnowledgeBase, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if err := config.EnsureInstanceDir(dir); err != nil {
		return nil, err
	}

	meta, err := metastore.Open(config.MetadataPath(dir))
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	papers, err := vecindex.Open(dir, vecindex.PapersTable)
	if err != nil {
		meta.Close()
		return nil, err
	}
	chunks, err := vecindex.Open(dir, vecindex.ChunksTable)
	if err != nil {
		meta.Close()
		return nil, err
	}

	ch := opts.Chunker
	if ch == nil {
		ch = chunker.Default()
	}
	batch := opts.BatchSize
	if batch < 1 {
		batch = embedding.DefaultBatchSize
	}
	reviewLimit := opts.ReviewLimit
	if reviewLimit <= 0 {
		reviewLimit = DefaultReviewLimit
	}
	if reviewLimit > MaxReviewLimit {
		reviewLimit = MaxReviewLimit
	}

	return &KnowledgeBase{
		dir:         dir,
		meta:        meta,
		papers:      papers,
		chunks:      chunks,
		provider:    opts.Provider,
		chunker:     ch,
		batchSize:   batch,
		reviewLimit: reviewLimit,
		progress:    opts.Progress,
	}, nil
}

// Close releases the metadata store connection.
func (kb *KnowledgeBase) Close() error {
	return kb.meta.Close()
}

// Dir returns the instance directory.
func (kb *KnowledgeBase) Dir() string {
	return kb.dir
}

// Meta exposes the metadata store for read-heavy callers.
func (kb *KnowledgeBase) Meta() *metastore.Store {
	return kb.meta
}

// All returns a metadata snapshot of every paper, id-ordered.
func (kb *KnowledgeBase) All() ([]paper.Paper, error) {
	return kb.meta.All()
}

// IDsWithFullText returns the ids of papers that have at least one
// committed full-text chunk. The ingestion pipeline uses this set to
// resume after an interruption.
func (kb *KnowledgeBase) IDsWithFullText() map[string]bool {
	return kb.chunks.PaperIDs(func(r vecindex.Row) bool {
		return r.Source == SourceFullText
	})
}

// GetChunk returns one chunk by its exact id, with paper metadata
// attached. No similarity ranking is involved.
func (kb *KnowledgeBase) GetChunk(chunkID string) (*ChunkHit, error) {
	row, err := kb.chunks.Lookup(func(r vecindex.Row) bool {
		return r.ID == chunkID
	})
	if err != nil {
		if errors.Is(err, vecindex.ErrRowNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
		}
		return nil, err
	}

	hit := chunkHitFromRow(*row, 0)
	if p, err := kb.meta.GetPaper(row.PaperID); err == nil {
		hit.attachPaper(p)
	}
	return &hit, nil
}

// DeleteStats reports what a delete removed from each store.
type DeleteStats struct {
	Papers    int `json:"papers"`
	Reviews   int `json:"reviews"`
	ChunkRows int `json:"chunk_rows"`
	PaperRows int `json:"paper_rows"`
	PDFs      int `json:"pdfs"`
}

// DeletePaper removes one paper everywhere.
func (kb *KnowledgeBase) DeletePaper(id string, deletePDF bool) (*DeleteStats, error) {
	return kb.DeletePapers([]string{id}, deletePDF)
}

// DeletePapers removes papers from the metadata store (transactionally),
// from both vector tables, and optionally their downloaded PDFs. The
// metadata delete commits first; a vector table failure afterwards is
// reported but does not undo it, matching the no-cross-store-transaction
// contract.
func (kb *KnowledgeBase) DeletePapers(ids []string, deletePDF bool) (*DeleteStats, error) {
	stats := &DeleteStats{}

	papers, reviews, err := kb.meta.DeletePapers(ids)
	if err != nil {
		return stats, fmt.Errorf("deleting metadata: %w", err)
	}
	stats.Papers = papers
	stats.Reviews = reviews

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	chunkRows, chunkErr := kb.chunks.Delete(func(r vecindex.Row) bool {
		return idSet[r.PaperID]
	})
	stats.ChunkRows = chunkRows

	paperRows, paperErr := kb.papers.Delete(func(r vecindex.Row) bool {
		return idSet[r.ID]
	})
	stats.PaperRows = paperRows

	if deletePDF {
		pdfDir := config.PDFPath(kb.dir)
		for id := range idSet {
			if err := os.Remove(pdf.PaperPath(pdfDir, id)); err == nil {
				stats.PDFs++
			}
		}
	}

	if chunkErr != nil {
		return stats, fmt.Errorf("deleting chunk vectors: %w", chunkErr)
	}
	if paperErr != nil {
		return stats, fmt.Errorf("deleting paper vectors: %w", paperErr)
	}
	return stats, nil
}
