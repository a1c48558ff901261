// Package pdf extracts text from downloaded paper PDFs and fetches them
// into an instance's pdfs directory.
package pdf

import (
	"errors"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText indicates the PDF yielded no extractable text, typically a
// scanned document with no text layer.
var ErrNoText = errors.New("pdf contains no extractable text")

// ExtractText extracts plain text from the first maxPages pages of a PDF.
// Pass maxPages <= 0 to read the whole document. Pages that fail to
// decode are skipped; the error is only returned when nothing at all
// could be extracted.
func ExtractText(filePath string, maxPages int) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return extractPages(r, maxPages)
}

// ExtractTextReader extracts text from an in-memory PDF.
func ExtractTextReader(r io.ReaderAt, size int64, maxPages int) (string, error) {
	pdfReader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", err
	}
	return extractPages(pdfReader, maxPages)
}

func extractPages(r *pdf.Reader, maxPages int) (string, error) {
	if maxPages <= 0 || maxPages > r.NumPage() {
		maxPages = r.NumPage()
	}

	var builder strings.Builder
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	out := builder.String()
	if strings.TrimSpace(out) == "" {
		return "", ErrNoText
	}
	return out, nil
}
