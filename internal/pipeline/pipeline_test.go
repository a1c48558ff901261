package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/matsen/paperkb/internal/embedding"
	"github.com/matsen/paperkb/internal/kb"
	"github.com/matsen/paperkb/internal/paper"
)

// stubFetcher writes a fake PDF file and records which papers it saw.
type stubFetcher struct {
	calls []string
	fail  bool
}

func (f *stubFetcher) DownloadPDF(ctx context.Context, p *paper.Paper, dest string) error {
	f.calls = append(f.calls, p.ID)
	if f.fail {
		return errors.New("download refused")
	}
	return os.WriteFile(dest, []byte("%PDF-1.4"), 0644)
}

// stubParser returns canned text and can cancel a context mid-run.
type stubParser struct {
	calls  []string
	onCall func()
}

func (p *stubParser) Parse(path string, maxPages int) (string, error) {
	p.calls = append(p.calls, path)
	if p.onCall != nil {
		p.onCall()
	}
	return "parsed full text from " + path, nil
}

func openTestKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	base, err := kb.Open(t.TempDir(), kb.Options{Provider: embedding.NewFakeProvider(64)})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { base.Close() })
	return base
}

func testPapers(n int) []*paper.Paper {
	papers := make([]*paper.Paper, n)
	for i := range papers {
		id := fmt.Sprintf("p%d", i+1)
		papers[i] = &paper.Paper{
			ID:       id,
			Title:    "Paper " + id,
			Abstract: "Abstract for " + id,
			PDFURL:   "https://example.org/" + id + ".pdf",
		}
	}
	return papers
}

func TestRun_FetchParseIngest(t *testing.T) {
	base := openTestKB(t)
	fetcher := &stubFetcher{}
	parser := &stubParser{}
	p := New(base, WithFetcher(fetcher), WithParser(parser), WithBatchSize(2))

	stats, err := p.Run(context.Background(), testPapers(3))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Batches != 2 {
		t.Errorf("expected 2 batches, got %d", stats.Batches)
	}
	if stats.Fetched != 3 || stats.Parsed != 3 {
		t.Errorf("fetch/parse stats: %+v", stats)
	}
	if stats.Ingest.Papers != 3 {
		t.Errorf("ingest stats: %+v", stats.Ingest)
	}

	ids := base.IDsWithFullText()
	for _, id := range []string{"p1", "p2", "p3"} {
		if !ids[id] {
			t.Errorf("%s missing from full-text set", id)
		}
	}
}

func TestRun_SkipsAlreadyIndexed(t *testing.T) {
	base := openTestKB(t)

	done := testPapers(1)[0]
	done.Content = "already ingested full text"
	if _, err := base.Ingest(context.Background(), []*paper.Paper{done}); err != nil {
		t.Fatalf("seed Ingest failed: %v", err)
	}

	fetcher := &stubFetcher{}
	parser := &stubParser{}
	p := New(base, WithFetcher(fetcher), WithParser(parser))

	stats, err := p.Run(context.Background(), testPapers(2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("expected p1 skipped, got %+v", stats)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != "p2" {
		t.Errorf("fetcher should only see p2: %v", fetcher.calls)
	}
}

func TestRun_FetchFailureDegradesToMetadataOnly(t *testing.T) {
	base := openTestKB(t)
	fetcher := &stubFetcher{fail: true}
	parser := &stubParser{}
	p := New(base, WithFetcher(fetcher), WithParser(parser))

	stats, err := p.Run(context.Background(), testPapers(1))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.FetchFailed != 1 || stats.Parsed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Ingest.Papers != 1 {
		t.Errorf("metadata ingest should still happen: %+v", stats.Ingest)
	}
	if len(base.IDsWithFullText()) != 0 {
		t.Error("no full text should be indexed")
	}
	if _, err := base.Meta().GetPaper("p1"); err != nil {
		t.Errorf("metadata missing: %v", err)
	}
}

func TestRun_CancellationKeepsCommittedBatches(t *testing.T) {
	base := openTestKB(t)
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := &stubFetcher{}
	parser := &stubParser{}
	parsed := 0
	parser.onCall = func() {
		parsed++
		if parsed == 2 {
			cancel()
		}
	}
	p := New(base, WithFetcher(fetcher), WithParser(parser), WithBatchSize(1))

	stats, err := p.Run(ctx, testPapers(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.Batches != 1 {
		t.Errorf("expected exactly 1 committed batch, got %d", stats.Batches)
	}

	// The committed batch survives; a fresh run resumes past it.
	ids := base.IDsWithFullText()
	if !ids["p1"] {
		t.Error("first batch should be committed")
	}
	if ids["p3"] {
		t.Error("unprocessed paper should not be committed")
	}

	resume := New(base, WithFetcher(&stubFetcher{}), WithParser(&stubParser{}), WithBatchSize(1))
	resumeStats, err := resume.Run(context.Background(), testPapers(3))
	if err != nil {
		t.Fatalf("resume Run failed: %v", err)
	}
	if resumeStats.Skipped == 0 {
		t.Errorf("resume should skip committed papers: %+v", resumeStats)
	}
	if !base.IDsWithFullText()["p3"] {
		t.Error("resume should finish the remaining papers")
	}
}
