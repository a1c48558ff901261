package kb

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matsen/paperkb/internal/config"
	"github.com/matsen/paperkb/internal/vecindex"
)

// mergeAppendBatch bounds how many vector rows one append writes, so a
// huge import does not hold everything twice in memory.
const mergeAppendBatch = 500

// MergeStats reports what a merge-import added.
type MergeStats struct {
	PapersAdded  int `json:"papers_added"`
	ReviewsAdded int `json:"reviews_added"`
	PaperRows    int `json:"paper_rows"`
	ChunkRows    int `json:"chunk_rows"`
}

// exportFiles are the instance files an archive carries. PDFs are
// deliberately excluded; they are re-fetchable from pdf_url.
func exportFiles() []string {
	return []string{
		config.MetadataFile,
		config.PapersTableFile,
		config.ChunksTableFile,
	}
}

// Export writes the instance's metadata database and vector tables into
// a zip archive at path. The archive round-trips through MergeImport
// without loss.
func (kb *KnowledgeBase) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	w := zip.NewWriter(f)
	for _, name := range exportFiles() {
		src := filepath.Join(kb.dir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := addFileToZip(w, src, name); err != nil {
			w.Close()
			f.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return f.Close()
}

// MergeImport folds another instance's archive into this one. Metadata
// rows merge insert-skip-existing; vector rows append without dedup, so
// importing the same archive twice duplicates chunk rows (exact GetChunk
// lookups still return the first).
func (kb *KnowledgeBase) MergeImport(path string) (*MergeStats, error) {
	stats := &MergeStats{}

	tempDir, err := os.MkdirTemp("", "pkb-import-*")
	if err != nil {
		return stats, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := extractArchive(path, tempDir); err != nil {
		return stats, err
	}

	srcMeta := filepath.Join(tempDir, config.MetadataFile)
	if _, err := os.Stat(srcMeta); err == nil {
		papersAdded, reviewsAdded, err := kb.meta.MergeFrom(srcMeta)
		if err != nil {
			return stats, fmt.Errorf("merging metadata: %w", err)
		}
		stats.PapersAdded = papersAdded
		stats.ReviewsAdded = reviewsAdded
	}

	paperRows, err := mergeTable(tempDir, vecindex.PapersTable, kb.papers)
	if err != nil {
		return stats, err
	}
	stats.PaperRows = paperRows

	chunkRows, err := mergeTable(tempDir, vecindex.ChunksTable, kb.chunks)
	if err != nil {
		return stats, err
	}
	stats.ChunkRows = chunkRows

	return stats, nil
}

// mergeTable appends every row of the extracted table into dst in
// bounded batches.
func mergeTable(srcDir, name string, dst *vecindex.Table) (int, error) {
	if !vecindex.Exists(srcDir, name) {
		return 0, nil
	}
	src, err := vecindex.Open(srcDir, name)
	if err != nil {
		return 0, fmt.Errorf("opening imported %s table: %w", name, err)
	}

	rows := src.All()
	for start := 0; start < len(rows); start += mergeAppendBatch {
		end := start + mergeAppendBatch
		if end > len(rows) {
			end = len(rows)
		}
		if err := dst.Append(rows[start:end]); err != nil {
			return start, fmt.Errorf("appending to %s table: %w", name, err)
		}
	}
	return len(rows), nil
}

func addFileToZip(w *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	entry, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", name, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("writing %s to archive: %w", name, err)
	}
	return nil
}

// extractArchive pulls the known instance files out of the archive.
// Entry names outside the known set are ignored, which also rules out
// path traversal.
func extractArchive(path, destDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	known := make(map[string]bool)
	for _, name := range exportFiles() {
		known[name] = true
	}

	for _, entry := range r.File {
		if !known[entry.Name] {
			continue
		}
		if err := extractEntry(entry, filepath.Join(destDir, entry.Name)); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("extracting %s: %w", entry.Name, err)
	}
	return f.Close()
}
