// Package config handles instance layout and global configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// An instance is one knowledge base directory holding everything the
// system knows: SQLite metadata, vector tables and downloaded PDFs.
const (
	// MetadataFile is the SQLite metadata database.
	MetadataFile = "metadata.sqlite"
	// PapersTableFile is the paper-level vector table.
	PapersTableFile = "papers.gob"
	// ChunksTableFile is the chunk-level vector table.
	ChunksTableFile = "chunks.gob"
	// PDFDir holds downloaded PDFs, one {paper_id}.pdf each.
	PDFDir = "pdfs"
)

// MetadataPath returns the path to the metadata database.
func MetadataPath(dir string) string {
	return filepath.Join(dir, MetadataFile)
}

// PDFPath returns the path to the PDF directory.
func PDFPath(dir string) string {
	return filepath.Join(dir, PDFDir)
}

// IsInstance checks if the given directory holds a knowledge base.
func IsInstance(dir string) bool {
	info, err := os.Stat(MetadataPath(dir))
	return err == nil && !info.IsDir()
}

// EnsureInstanceDir creates the instance directory and its pdfs
// subdirectory if they do not exist.
func EnsureInstanceDir(dir string) error {
	if err := os.MkdirAll(PDFPath(dir), 0755); err != nil {
		return fmt.Errorf("creating instance directory: %w", err)
	}
	return nil
}

// ExpandTilde expands a leading ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandTilde(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
