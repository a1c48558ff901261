// Package metastore is the durable structured record of papers and their
// reviews, backed by SQLite. It is the source of truth for scalar fields;
// the vector index is a derived projection that can always be rebuilt from
// this store.
package metastore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matsen/paperkb/internal/paper"
	_ "modernc.org/sqlite"
)

// Errors returned by metastore operations.
var (
	ErrEmptyID  = errors.New("empty paper id")
	ErrNotFound = errors.New("paper not found")
)

// Store wraps the SQLite metadata database.
type Store struct {
	db   *sql.DB
	path string
}

// selectPaperFields is the standard field list for paper SELECT queries.
const selectPaperFields = `id, title, abstract, tldr, authors_json, keywords_json,
	year, venue_id, forum, number, pdf_url, pdf_path,
	decision, decision_text, rebuttal_text, presentation, rating, raw_json, updated_at`

// Open opens or creates the metadata store at the given path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			title TEXT,
			abstract TEXT,
			tldr TEXT,
			authors_json TEXT,
			keywords_json TEXT,
			year INTEGER,
			venue_id TEXT,
			forum TEXT,
			number INTEGER,
			pdf_url TEXT,
			pdf_path TEXT,
			decision TEXT,
			decision_text TEXT,
			rebuttal_text TEXT,
			presentation TEXT,
			rating REAL,
			raw_json TEXT,
			updated_at TEXT
		);

		CREATE TABLE IF NOT EXISTS reviews (
			paper_id TEXT,
			idx INTEGER,
			rating REAL,
			rating_raw TEXT,
			confidence REAL,
			confidence_raw TEXT,
			summary TEXT,
			strengths TEXT,
			weaknesses TEXT,
			text TEXT,
			raw_json TEXT,
			PRIMARY KEY (paper_id, idx)
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_paper_id ON reviews(paper_id);
	`
	_, err := db.Exec(schema)
	return err
}

// migrateSchema adds columns introduced after a database was created.
// Pre-existing rows keep NULL for the new columns.
func migrateSchema(db *sql.DB) error {
	migrations := map[string][]string{
		"papers":  {"presentation TEXT", "decision_text TEXT", "rebuttal_text TEXT"},
		"reviews": {"text TEXT"},
	}

	for table, cols := range migrations {
		existing, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			name := strings.Fields(col)[0]
			if existing[name] {
				continue
			}
			if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col)); err != nil {
				return fmt.Errorf("adding column %s.%s: %w", table, name, err)
			}
		}
	}
	return nil
}

// tableColumnOrder returns the column names of a table in declared
// order. A non-empty schema qualifies an attached database.
func tableColumnOrder(db *sql.DB, schema, table string) ([]string, error) {
	pragma := fmt.Sprintf("PRAGMA table_info(%s)", table)
	if schema != "" {
		pragma = fmt.Sprintf("PRAGMA %s.table_info(%s)", schema, table)
	}
	rows, err := db.Query(pragma)
	if err != nil {
		return nil, fmt.Errorf("reading table info for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// tableColumns returns the set of column names for a table.
func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("reading table info for %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// UpsertPaper inserts or updates a paper's scalar metadata. Identity fields
// are replaced unconditionally; provenance fields (pdf_url, pdf_path,
// decision, decision_text, rebuttal_text) keep their existing value unless
// the new value is non-empty, so an incomplete re-fetch never erases
// previously captured data.
func (s *Store) UpsertPaper(p *paper.Paper) error {
	pid := strings.TrimSpace(p.ID)
	if pid == "" {
		return ErrEmptyID
	}

	authorsJSON, err := json.Marshal(emptyIfNil(p.Authors))
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", pid, err)
	}
	keywordsJSON, err := json.Marshal(emptyIfNil(p.Keywords))
	if err != nil {
		return fmt.Errorf("marshaling keywords for %s: %w", pid, err)
	}

	raw := string(p.Raw)
	if raw == "" {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling raw record for %s: %w", pid, err)
		}
		raw = string(data)
	}

	_, err = s.db.Exec(`
		INSERT INTO papers (
			id, title, abstract, tldr, authors_json, keywords_json,
			year, venue_id, forum, number, pdf_url, pdf_path,
			decision, decision_text, rebuttal_text, presentation, rating, raw_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			abstract=excluded.abstract,
			tldr=excluded.tldr,
			authors_json=excluded.authors_json,
			keywords_json=excluded.keywords_json,
			year=COALESCE(excluded.year, papers.year),
			venue_id=COALESCE(NULLIF(excluded.venue_id, ''), papers.venue_id),
			forum=COALESCE(NULLIF(excluded.forum, ''), papers.forum),
			number=COALESCE(excluded.number, papers.number),
			pdf_url=CASE
				WHEN excluded.pdf_url IS NOT NULL AND excluded.pdf_url <> '' THEN excluded.pdf_url
				ELSE papers.pdf_url
			END,
			pdf_path=CASE
				WHEN excluded.pdf_path IS NOT NULL AND excluded.pdf_path <> '' THEN excluded.pdf_path
				ELSE papers.pdf_path
			END,
			decision=CASE
				WHEN excluded.decision IS NOT NULL AND TRIM(excluded.decision) <> '' THEN excluded.decision
				ELSE papers.decision
			END,
			decision_text=CASE
				WHEN excluded.decision_text IS NOT NULL AND TRIM(excluded.decision_text) <> '' THEN excluded.decision_text
				ELSE papers.decision_text
			END,
			rebuttal_text=CASE
				WHEN excluded.rebuttal_text IS NOT NULL AND TRIM(excluded.rebuttal_text) <> '' THEN excluded.rebuttal_text
				ELSE papers.rebuttal_text
			END,
			presentation=COALESCE(NULLIF(excluded.presentation, ''), papers.presentation),
			rating=COALESCE(excluded.rating, papers.rating),
			raw_json=excluded.raw_json,
			updated_at=excluded.updated_at`,
		pid, strings.TrimSpace(p.Title), strings.TrimSpace(p.Abstract), strings.TrimSpace(p.TLDR),
		string(authorsJSON), string(keywordsJSON),
		nullableInt(p.Year), p.VenueID, p.Forum, nullableInt(p.Number),
		p.PDFURL, p.PDFPath,
		p.Decision, p.DecisionText, p.RebuttalText, string(p.Presentation),
		nullableFloat(p.Rating), raw, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting paper %s: %w", pid, err)
	}
	return nil
}

// UpsertReviews replaces a paper's reviews wholesale. Reviews are
// append-only by default: an empty list is a no-op unless replaceEmpty is
// set, so a re-fetch that failed to retrieve reviews never clears history.
func (s *Store) UpsertReviews(paperID string, reviews []paper.Review, replaceEmpty bool) error {
	pid := strings.TrimSpace(paperID)
	if pid == "" {
		return ErrEmptyID
	}
	if len(reviews) == 0 && !replaceEmpty {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM reviews WHERE paper_id = ?", pid); err != nil {
		return fmt.Errorf("clearing reviews for %s: %w", pid, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO reviews (
			paper_id, idx, rating, rating_raw, confidence, confidence_raw,
			summary, strengths, weaknesses, text, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing review insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range reviews {
		raw := string(r.Raw)
		if raw == "" {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshaling review %d for %s: %w", i, pid, err)
			}
			raw = string(data)
		}
		if _, err := stmt.Exec(
			pid, i, nullableFloat(r.Rating), r.RatingRaw,
			nullableFloat(r.Confidence), r.ConfidenceRaw,
			r.Summary, r.Strengths, r.Weaknesses, r.Text, raw,
		); err != nil {
			return fmt.Errorf("inserting review %d for %s: %w", i, pid, err)
		}
	}

	return tx.Commit()
}

// GetPaper retrieves a paper by id. Returns ErrNotFound if absent.
func (s *Store) GetPaper(id string) (*paper.Paper, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}
	row := s.db.QueryRow(`SELECT `+selectPaperFields+` FROM papers WHERE id = ?`, id)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// GetPapers retrieves papers by id, keyed by id. Missing ids are omitted.
func (s *Store) GetPapers(ids []string) (map[string]*paper.Paper, error) {
	out := make(map[string]*paper.Paper, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`SELECT `+selectPaperFields+` FROM papers WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying papers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// GetReviews returns a paper's reviews ordered by index.
func (s *Store) GetReviews(paperID string) ([]paper.Review, error) {
	if strings.TrimSpace(paperID) == "" {
		return nil, ErrEmptyID
	}
	rows, err := s.db.Query(`
		SELECT paper_id, idx, rating, rating_raw, confidence, confidence_raw,
			summary, strengths, weaknesses, text, raw_json
		FROM reviews WHERE paper_id = ? ORDER BY idx ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	var reviews []paper.Review
	for rows.Next() {
		var (
			r          paper.Review
			rating     sql.NullFloat64
			ratingRaw  sql.NullString
			conf       sql.NullFloat64
			confRaw    sql.NullString
			summary    sql.NullString
			strengths  sql.NullString
			weaknesses sql.NullString
			text       sql.NullString
			raw        sql.NullString
		)
		if err := rows.Scan(&r.PaperID, &r.Idx, &rating, &ratingRaw, &conf, &confRaw,
			&summary, &strengths, &weaknesses, &text, &raw); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := rating.Float64
			r.Rating = &v
		}
		if conf.Valid {
			v := conf.Float64
			r.Confidence = &v
		}
		r.RatingRaw = ratingRaw.String
		r.ConfidenceRaw = confRaw.String
		r.Summary = summary.String
		r.Strengths = strengths.String
		r.Weaknesses = weaknesses.String
		r.Text = text.String
		if raw.Valid {
			r.Raw = json.RawMessage(raw.String)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// All returns a snapshot of every paper for structured filtering.
func (s *Store) All() ([]paper.Paper, error) {
	rows, err := s.db.Query(`SELECT ` + selectPaperFields + ` FROM papers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying papers: %w", err)
	}
	defer rows.Close()

	var papers []paper.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// DeletePaper removes a paper and its reviews in one transaction.
// Returns the number of paper and review rows deleted.
func (s *Store) DeletePaper(id string) (int, int, error) {
	return s.DeletePapers([]string{id})
}

// DeletePapers removes papers and their reviews in one transaction.
func (s *Store) DeletePapers(ids []string) (int, int, error) {
	uniq := dedupe(ids)
	if len(uniq) == 0 {
		return 0, 0, ErrEmptyID
	}

	placeholders := strings.Repeat("?, ", len(uniq)-1) + "?"
	args := make([]any, len(uniq))
	for i, id := range uniq {
		args[i] = id
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM reviews WHERE paper_id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting reviews: %w", err)
	}
	reviewsDeleted, _ := res.RowsAffected()

	res, err = tx.Exec("DELETE FROM papers WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting papers: %w", err)
	}
	papersDeleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing delete: %w", err)
	}
	return int(papersDeleted), int(reviewsDeleted), nil
}

// RepairPDFPaths backfills missing pdf_path values from files named
// {id}.pdf under dir. Returns the number of rows scanned and updated.
func (s *Store) RepairPDFPaths(dir string) (int, int, error) {
	rows, err := s.db.Query("SELECT id FROM papers WHERE pdf_path IS NULL OR TRIM(pdf_path) = ''")
	if err != nil {
		return 0, 0, fmt.Errorf("querying papers without pdf_path: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, err
		}
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	updated := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		local := filepath.Join(dir, id+".pdf")
		if _, err := os.Stat(local); err != nil {
			continue
		}
		if _, err := s.db.Exec("UPDATE papers SET pdf_path = ?, updated_at = ? WHERE id = ?", local, now, id); err != nil {
			return len(ids), updated, fmt.Errorf("updating pdf_path for %s: %w", id, err)
		}
		updated++
	}
	return len(ids), updated, nil
}

// MergeFrom merges another metadata database into this one, inserting rows
// whose primary key is not already present and skipping the rest. Returns
// the number of paper and review rows added.
func (s *Store) MergeFrom(srcPath string) (int, int, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return 0, 0, fmt.Errorf("source database: %w", err)
	}

	if _, err := s.db.Exec("ATTACH DATABASE ? AS src", srcPath); err != nil {
		return 0, 0, fmt.Errorf("attaching source database: %w", err)
	}
	defer s.db.Exec("DETACH DATABASE src")

	papersAdded, err := s.mergeAttachedTable("papers")
	if err != nil {
		return 0, 0, err
	}
	reviewsAdded, err := s.mergeAttachedTable("reviews")
	if err != nil {
		return papersAdded, 0, err
	}

	return papersAdded, reviewsAdded, nil
}

// mergeAttachedTable copies rows from src.<table>, matching columns by
// name rather than position so a database exported before a schema
// migration still merges; columns the source predates stay NULL.
func (s *Store) mergeAttachedTable(table string) (int, error) {
	srcCols, err := tableColumnOrder(s.db, "src", table)
	if err != nil {
		return 0, err
	}
	dstCols, err := tableColumns(s.db, table)
	if err != nil {
		return 0, err
	}

	var shared []string
	for _, col := range srcCols {
		if dstCols[col] {
			shared = append(shared, col)
		}
	}
	if len(shared) == 0 {
		return 0, fmt.Errorf("merging %s: no shared columns", table)
	}

	cols := strings.Join(shared, ", ")
	res, err := s.db.Exec(fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) SELECT %s FROM src.%s", table, cols, cols, table))
	if err != nil {
		return 0, fmt.Errorf("merging %s: %w", table, err)
	}
	added, _ := res.RowsAffected()
	return int(added), nil
}

// CountPapers returns the number of paper rows.
func (s *Store) CountPapers() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM papers").Scan(&n)
	return n, err
}

// CountReviews returns the number of review rows.
func (s *Store) CountReviews() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM reviews").Scan(&n)
	return n, err
}

// scanner abstracts sql.Row and sql.Rows for scanPaper.
type scanner interface {
	Scan(dest ...any) error
}

// scanPaper reads one paper row. Malformed authors/keywords JSON degrades
// to an empty list rather than failing the whole read.
func scanPaper(row scanner) (*paper.Paper, error) {
	var (
		p            paper.Paper
		title        sql.NullString
		abstract     sql.NullString
		tldr         sql.NullString
		authorsJSON  sql.NullString
		keywordsJSON sql.NullString
		year         sql.NullInt64
		venueID      sql.NullString
		forum        sql.NullString
		number       sql.NullInt64
		pdfURL       sql.NullString
		pdfPath      sql.NullString
		decision     sql.NullString
		decisionText sql.NullString
		rebuttalText sql.NullString
		presentation sql.NullString
		rating       sql.NullFloat64
		raw          sql.NullString
		updatedAt    sql.NullString
	)

	err := row.Scan(&p.ID, &title, &abstract, &tldr, &authorsJSON, &keywordsJSON,
		&year, &venueID, &forum, &number, &pdfURL, &pdfPath,
		&decision, &decisionText, &rebuttalText, &presentation, &rating, &raw, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Title = title.String
	p.Abstract = abstract.String
	p.TLDR = tldr.String
	p.Authors = parseStringList(authorsJSON.String)
	p.Keywords = parseStringList(keywordsJSON.String)
	if year.Valid {
		v := int(year.Int64)
		p.Year = &v
	}
	p.VenueID = venueID.String
	p.Forum = forum.String
	if number.Valid {
		v := int(number.Int64)
		p.Number = &v
	}
	p.PDFURL = pdfURL.String
	p.PDFPath = pdfPath.String
	p.Decision = decision.String
	p.DecisionText = decisionText.String
	p.RebuttalText = rebuttalText.String
	p.Presentation = paper.Presentation(presentation.String)
	if rating.Valid {
		v := rating.Float64
		p.Rating = &v
	}
	if raw.Valid {
		p.Raw = json.RawMessage(raw.String)
	}
	if updatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
			p.UpdatedAt = t
		}
	}
	return &p, nil
}

// parseStringList decodes a JSON string array, tolerating malformed input.
func parseStringList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// dedupe trims, drops empties, and removes duplicates preserving order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
