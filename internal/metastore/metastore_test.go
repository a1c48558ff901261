package metastore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matsen/paperkb/internal/paper"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metadata.sqlite"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestUpsertPaper_InsertAndGet(t *testing.T) {
	s := openTestStore(t)

	p := &paper.Paper{
		ID:       "p1",
		Title:    "Tree Inference at Scale",
		Abstract: "We infer trees.",
		Authors:  []string{"A. Author", "B. Author"},
		Keywords: []string{"phylogenetics"},
		Year:     intPtr(2024),
		VenueID:  "ICLR.cc/2024",
		Decision: "Accept",
		Rating:   floatPtr(7.5),
	}
	if err := s.UpsertPaper(p); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}

	got, err := s.GetPaper("p1")
	if err != nil {
		t.Fatalf("GetPaper failed: %v", err)
	}
	if got.Title != p.Title {
		t.Errorf("title: got %q, want %q", got.Title, p.Title)
	}
	if len(got.Authors) != 2 || got.Authors[0] != "A. Author" {
		t.Errorf("authors round-trip failed: %v", got.Authors)
	}
	if got.Year == nil || *got.Year != 2024 {
		t.Errorf("year round-trip failed: %v", got.Year)
	}
	if got.Rating == nil || *got.Rating != 7.5 {
		t.Errorf("rating round-trip failed: %v", got.Rating)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}
}

func TestUpsertPaper_EmptyID(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertPaper(&paper.Paper{ID: "  "})
	if !errors.Is(err, ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got %v", err)
	}
}

func TestGetPaper_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetPaper("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertPaper_ProvenanceFieldsKeptOnEmptyUpdate(t *testing.T) {
	s := openTestStore(t)

	first := &paper.Paper{
		ID:           "p1",
		Title:        "Original",
		Decision:     "Accept (poster)",
		DecisionText: "Solid contribution.",
		RebuttalText: "We thank the reviewers.",
		PDFURL:       "https://example.org/p1.pdf",
		PDFPath:      "/data/pdfs/p1.pdf",
		Rating:       floatPtr(6.0),
	}
	if err := s.UpsertPaper(first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// Re-fetch with only identity fields: provenance must survive.
	second := &paper.Paper{ID: "p1", Title: "Updated Title"}
	if err := s.UpsertPaper(second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := s.GetPaper("p1")
	if err != nil {
		t.Fatalf("GetPaper failed: %v", err)
	}
	if got.Title != "Updated Title" {
		t.Errorf("identity field not replaced: %q", got.Title)
	}
	if got.Decision != "Accept (poster)" {
		t.Errorf("decision was overwritten with empty: %q", got.Decision)
	}
	if got.DecisionText != "Solid contribution." {
		t.Errorf("decision_text was overwritten with empty: %q", got.DecisionText)
	}
	if got.RebuttalText != "We thank the reviewers." {
		t.Errorf("rebuttal_text was overwritten with empty: %q", got.RebuttalText)
	}
	if got.PDFURL != "https://example.org/p1.pdf" || got.PDFPath != "/data/pdfs/p1.pdf" {
		t.Errorf("pdf fields overwritten: url=%q path=%q", got.PDFURL, got.PDFPath)
	}
	if got.Rating == nil || *got.Rating != 6.0 {
		t.Errorf("rating overwritten: %v", got.Rating)
	}

	// A non-empty new value does replace.
	third := &paper.Paper{ID: "p1", Title: "Updated Title", Decision: "Accept (oral)"}
	if err := s.UpsertPaper(third); err != nil {
		t.Fatalf("third upsert failed: %v", err)
	}
	got, _ = s.GetPaper("p1")
	if got.Decision != "Accept (oral)" {
		t.Errorf("non-empty decision not applied: %q", got.Decision)
	}
}

func TestUpsertReviews_AppendOnlyByDefault(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPaper(&paper.Paper{ID: "p1", Title: "T"}); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}

	reviews := []paper.Review{
		{Rating: floatPtr(8), Summary: "Strong results"},
		{Rating: floatPtr(5), Summary: "Unclear method"},
	}
	if err := s.UpsertReviews("p1", reviews, false); err != nil {
		t.Fatalf("UpsertReviews failed: %v", err)
	}

	got, err := s.GetReviews("p1")
	if err != nil {
		t.Fatalf("GetReviews failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(got))
	}
	if got[0].Idx != 0 || got[1].Idx != 1 {
		t.Errorf("review ordinals wrong: %d, %d", got[0].Idx, got[1].Idx)
	}

	// Empty list without the override flag is a no-op.
	if err := s.UpsertReviews("p1", nil, false); err != nil {
		t.Fatalf("empty UpsertReviews failed: %v", err)
	}
	got, _ = s.GetReviews("p1")
	if len(got) != 2 {
		t.Errorf("empty review list cleared history: %d reviews left", len(got))
	}

	// With the override flag the history is cleared.
	if err := s.UpsertReviews("p1", nil, true); err != nil {
		t.Fatalf("forced empty UpsertReviews failed: %v", err)
	}
	got, _ = s.GetReviews("p1")
	if len(got) != 0 {
		t.Errorf("expected reviews cleared, got %d", len(got))
	}
}

func TestDeletePapers(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := s.UpsertPaper(&paper.Paper{ID: id, Title: id}); err != nil {
			t.Fatalf("UpsertPaper(%s) failed: %v", id, err)
		}
	}
	if err := s.UpsertReviews("p1", []paper.Review{{Summary: "ok"}}, false); err != nil {
		t.Fatalf("UpsertReviews failed: %v", err)
	}

	papers, reviews, err := s.DeletePapers([]string{"p1", "p2", "p1", " "})
	if err != nil {
		t.Fatalf("DeletePapers failed: %v", err)
	}
	if papers != 2 {
		t.Errorf("expected 2 papers deleted, got %d", papers)
	}
	if reviews != 1 {
		t.Errorf("expected 1 review deleted, got %d", reviews)
	}

	if _, err := s.GetPaper("p3"); err != nil {
		t.Errorf("p3 should survive: %v", err)
	}
}

func TestAll(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"p2", "p1"} {
		if err := s.UpsertPaper(&paper.Paper{ID: id, Title: "title " + id}); err != nil {
			t.Fatalf("UpsertPaper failed: %v", err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(all))
	}
	if all[0].ID != "p1" || all[1].ID != "p2" {
		t.Errorf("expected id-ordered rows, got %s, %s", all[0].ID, all[1].ID)
	}
}

func TestRepairPDFPaths(t *testing.T) {
	s := openTestStore(t)
	pdfDir := t.TempDir()

	if err := s.UpsertPaper(&paper.Paper{ID: "p1"}); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}
	if err := s.UpsertPaper(&paper.Paper{ID: "p2"}); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}
	writeFile(t, filepath.Join(pdfDir, "p1.pdf"), "%PDF-1.4")

	scanned, updated, err := s.RepairPDFPaths(pdfDir)
	if err != nil {
		t.Fatalf("RepairPDFPaths failed: %v", err)
	}
	if scanned != 2 || updated != 1 {
		t.Errorf("expected scanned=2 updated=1, got scanned=%d updated=%d", scanned, updated)
	}

	got, _ := s.GetPaper("p1")
	if got.PDFPath != filepath.Join(pdfDir, "p1.pdf") {
		t.Errorf("pdf_path not backfilled: %q", got.PDFPath)
	}
	got, _ = s.GetPaper("p2")
	if got.PDFPath != "" {
		t.Errorf("p2 pdf_path should stay empty: %q", got.PDFPath)
	}
}

func TestMergeFrom_SkipsExisting(t *testing.T) {
	dst := openTestStore(t)
	srcPath := filepath.Join(t.TempDir(), "src.sqlite")
	src, err := Open(srcPath)
	if err != nil {
		t.Fatalf("Open source failed: %v", err)
	}

	if err := dst.UpsertPaper(&paper.Paper{ID: "p1", Title: "existing"}); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}
	if err := src.UpsertPaper(&paper.Paper{ID: "p1", Title: "incoming"}); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}
	if err := src.UpsertPaper(&paper.Paper{ID: "p2", Title: "new"}); err != nil {
		t.Fatalf("UpsertPaper failed: %v", err)
	}
	if err := src.UpsertReviews("p2", []paper.Review{{Summary: "fine"}}, false); err != nil {
		t.Fatalf("UpsertReviews failed: %v", err)
	}
	src.Close()

	papersAdded, reviewsAdded, err := dst.MergeFrom(srcPath)
	if err != nil {
		t.Fatalf("MergeFrom failed: %v", err)
	}
	if papersAdded != 1 {
		t.Errorf("expected 1 paper added, got %d", papersAdded)
	}
	if reviewsAdded != 1 {
		t.Errorf("expected 1 review added, got %d", reviewsAdded)
	}

	// Existing rows are never overwritten by a merge.
	got, _ := dst.GetPaper("p1")
	if got.Title != "existing" {
		t.Errorf("merge overwrote existing row: %q", got.Title)
	}
}

func TestMergeFrom_OlderSchema(t *testing.T) {
	dst := openTestStore(t)
	srcPath := filepath.Join(t.TempDir(), "src.sqlite")
	src, err := Open(srcPath)
	if err != nil {
		t.Fatalf("Open source failed: %v", err)
	}

	// Rewind the source to the pre-migration schema, as an archive
	// exported by an older build would have it.
	for _, stmt := range []string{
		"ALTER TABLE papers DROP COLUMN presentation",
		"ALTER TABLE papers DROP COLUMN decision_text",
		"ALTER TABLE papers DROP COLUMN rebuttal_text",
		"ALTER TABLE reviews DROP COLUMN text",
	} {
		if _, err := src.db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	if _, err := src.db.Exec(
		"INSERT INTO papers (id, title) VALUES ('p1', 'from old export')"); err != nil {
		t.Fatalf("inserting old-schema paper: %v", err)
	}
	if _, err := src.db.Exec(
		"INSERT INTO reviews (paper_id, idx, summary) VALUES ('p1', 0, 'fine')"); err != nil {
		t.Fatalf("inserting old-schema review: %v", err)
	}
	src.Close()

	papersAdded, reviewsAdded, err := dst.MergeFrom(srcPath)
	if err != nil {
		t.Fatalf("MergeFrom failed: %v", err)
	}
	if papersAdded != 1 || reviewsAdded != 1 {
		t.Errorf("expected 1 paper and 1 review added, got %d, %d", papersAdded, reviewsAdded)
	}

	got, err := dst.GetPaper("p1")
	if err != nil {
		t.Fatalf("GetPaper failed: %v", err)
	}
	if got.Title != "from old export" {
		t.Errorf("title: got %q", got.Title)
	}
	if got.DecisionText != "" {
		t.Errorf("column absent in source should stay empty, got %q", got.DecisionText)
	}
	reviews, err := dst.GetReviews("p1")
	if err != nil || len(reviews) != 1 || reviews[0].Summary != "fine" {
		t.Errorf("review merge failed: %v %v", reviews, err)
	}
}

func TestGetPapers_Batch(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"p1", "p2"} {
		if err := s.UpsertPaper(&paper.Paper{ID: id}); err != nil {
			t.Fatalf("UpsertPaper failed: %v", err)
		}
	}

	got, err := s.GetPapers([]string{"p1", "p2", "missing"})
	if err != nil {
		t.Fatalf("GetPapers failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 papers, got %d", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing id should be omitted")
	}
}
