package pdf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultFetchTimeout bounds a single PDF download.
const DefaultFetchTimeout = 2 * time.Minute

// ErrNotPDF indicates the fetched body is not a PDF document.
var ErrNotPDF = fmt.Errorf("response is not a PDF")

// PaperPath returns the canonical on-disk location for a paper's PDF
// inside an instance's pdfs directory.
func PaperPath(pdfDir, paperID string) string {
	return filepath.Join(pdfDir, paperID+".pdf")
}

// Fetch downloads a PDF to dest, writing through a temp file so a failed
// download never leaves a truncated PDF behind. The body must start with
// the %PDF magic; HTML error pages served with a 200 are rejected.
func Fetch(ctx context.Context, hc *http.Client, url, dest string) error {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultFetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	magic := make([]byte, 5)
	if _, err := io.ReadFull(resp.Body, magic); err != nil {
		return fmt.Errorf("reading %s: %w", url, err)
	}
	if !strings.HasPrefix(string(magic), "%PDF") {
		return fmt.Errorf("%w: %s", ErrNotPDF, url)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating pdf directory: %w", err)
	}

	tempPath := dest + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(magic); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing pdf: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
