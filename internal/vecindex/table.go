// Package vecindex provides file-backed vector tables with nearest-neighbor
// search over fixed-dimension embeddings. Each table pins one vector
// dimension; writing rows of a different dimension triggers an explicit
// rebuild that drops rows whose stored vector is missing or mis-sized.
package vecindex

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Errors returned by vector table operations.
var (
	ErrRowNotFound       = errors.New("row not found in vector table")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyVector       = errors.New("row has no vector")
	ErrUnsupportedFormat = errors.New("unsupported vector table format")
)

// Standard table names.
const (
	PapersTable = "papers"
	ChunksTable = "chunks"

	// CurrentTableVersion is the on-disk format version.
	CurrentTableVersion = 1
)

// Row is one entry in a vector table. The papers table fills ID plus the
// paper summary fields; the chunks table fills ID (the chunk id), PaperID,
// Source, ChunkIndex and Text. Unused fields stay zero.
type Row struct {
	ID         string
	PaperID    string
	Source     string
	ChunkIndex int
	Text       string
	Title      string
	Abstract   string
	Rating     *float64
	Year       *int
	Vector     []float32
}

// Match is a search hit with its distance from the query (cosine distance,
// smaller is closer).
type Match struct {
	Row
	Distance float32
}

// tableFile is the on-disk representation.
type tableFile struct {
	Version   int
	Name      string
	Dim       int
	CreatedAt time.Time
	Rows      []Row
}

// Table is a single vector table persisted as one gob file. Mutations are
// serialized by an internal mutex and committed with an atomic
// write-temp-then-rename, so a crash never leaves a partial write.
type Table struct {
	mu   sync.Mutex
	path string
	name string
	dim  int
	rows []Row
}

// TablePath returns the file path for a table in an instance directory.
func TablePath(dir, name string) string {
	return filepath.Join(dir, name+".gob")
}

// Open loads a table from dir, creating an empty one (dimension unpinned)
// if the file does not exist.
func Open(dir, name string) (*Table, error) {
	t := &Table{path: TablePath(dir, name), name: name}

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("opening table %s: %w", name, err)
	}
	defer f.Close()

	var file tableFile
	if err := gob.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding table %s: %w", name, err)
	}
	if file.Version != CurrentTableVersion {
		return nil, fmt.Errorf("%w: table %s has version %d, want %d",
			ErrUnsupportedFormat, name, file.Version, CurrentTableVersion)
	}

	t.dim = file.Dim
	t.rows = file.Rows
	return t, nil
}

// Exists reports whether the table file is present on disk.
func Exists(dir, name string) bool {
	_, err := os.Stat(TablePath(dir, name))
	return err == nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Path returns the table file path.
func (t *Table) Path() string { return t.path }

// Dimensions returns the pinned vector dimension (0 when unpinned).
func (t *Table) Dimensions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dim
}

// Count returns the number of rows.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Upsert writes rows, replacing any existing rows with the same ID. Rows
// must carry vectors of one common dimension; if that dimension differs
// from the table's pinned dimension the table is rebuilt first, dropping
// rows that no longer fit (see Rebuild).
func (t *Table) Upsert(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	dim, err := commonDimension(rows)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dim != dim {
		// Pinned dimension differs (or was never pinned): rebuild,
		// dropping stored rows whose vector no longer fits.
		t.rebuildLocked(dim)
	}

	ids := make(map[string]bool, len(rows))
	for _, r := range rows {
		ids[r.ID] = true
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !ids[r.ID] {
			kept = append(kept, r)
		}
	}
	t.rows = append(kept, rows...)

	return t.saveLocked()
}

// Append adds rows without replacing existing IDs. Used by merge-import,
// where duplicate chunk ids are tolerated. The dimension policy matches
// Upsert.
func (t *Table) Append(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	dim, err := commonDimension(rows)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dim != dim {
		t.rebuildLocked(dim)
	}
	t.rows = append(t.rows, rows...)
	return t.saveLocked()
}

// Delete removes rows matching the predicate and returns how many were
// removed.
func (t *Table) Delete(pred func(Row) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.rows[:0]
	removed := 0
	for _, r := range t.rows {
		if pred(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	t.rows = kept
	return removed, t.saveLocked()
}

// Search returns up to limit rows ranked by cosine distance from the query
// vector, ascending.
func (t *Table) Search(query []float32, limit int) ([]Match, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.rows) == 0 {
		return nil, nil
	}
	if len(query) != t.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, table %s has %d",
			ErrDimensionMismatch, len(query), t.name, t.dim)
	}

	matches := make([]Match, 0, len(t.rows))
	for _, r := range t.rows {
		matches = append(matches, Match{Row: r, Distance: 1 - CosineSimilarity(query, r.Vector)})
	}
	sortMatches(matches)

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Lookup returns the first row matching the predicate, independent of any
// similarity ranking.
func (t *Table) Lookup(pred func(Row) bool) (*Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.rows {
		if pred(t.rows[i]) {
			row := t.rows[i]
			return &row, nil
		}
	}
	return nil, ErrRowNotFound
}

// All returns a copy of every row. Merge-import streams this in bounded
// batches on the write side.
func (t *Table) All() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// PaperIDs returns the distinct paper ids of rows matching the predicate.
func (t *Table) PaperIDs(pred func(Row) bool) map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make(map[string]bool)
	for _, r := range t.rows {
		if pred(r) {
			ids[r.PaperID] = true
		}
	}
	return ids
}

// Rebuild re-pins the table to dim, discarding rows whose stored vector is
// missing or has the wrong dimension, and rewrites the file. It is the
// single entry point for schema-drift self-healing and must not run
// concurrently with other writers (the table mutex guarantees this).
func (t *Table) Rebuild(dim int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebuildLocked(dim)
	return t.saveLocked()
}

func (t *Table) rebuildLocked(dim int) {
	kept := t.rows[:0]
	for _, r := range t.rows {
		if len(r.Vector) == dim {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	t.dim = dim
}

// saveLocked persists the table atomically. Callers hold t.mu.
func (t *Table) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("creating table directory: %w", err)
	}

	tempPath := t.path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	file := tableFile{
		Version:   CurrentTableVersion,
		Name:      t.name,
		Dim:       t.dim,
		CreatedAt: time.Now(),
		Rows:      t.rows,
	}
	if err := gob.NewEncoder(f).Encode(&file); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encoding table %s: %w", t.name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, t.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// commonDimension validates that every row carries a vector and that all
// vectors share one dimension.
func commonDimension(rows []Row) (int, error) {
	dim := 0
	for i, r := range rows {
		if len(r.Vector) == 0 {
			return 0, fmt.Errorf("%w: row %d (%s)", ErrEmptyVector, i, r.ID)
		}
		if dim == 0 {
			dim = len(r.Vector)
			continue
		}
		if len(r.Vector) != dim {
			return 0, fmt.Errorf("%w: row %d (%s) has %d dimensions, batch has %d",
				ErrDimensionMismatch, i, r.ID, len(r.Vector), dim)
		}
	}
	return dim, nil
}
