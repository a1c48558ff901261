// Package paper defines the domain records stored in the knowledge base.
package paper

import (
	"encoding/json"
	"strings"
	"time"
)

// Presentation describes how an accepted paper is presented.
type Presentation string

// Presentation values as reported by conference metadata.
const (
	PresentationOral      Presentation = "oral"
	PresentationSpotlight Presentation = "spotlight"
	PresentationPoster    Presentation = "poster"
	PresentationUnknown   Presentation = "unknown"
)

// Paper is a single paper record. Optional scalar fields use pointers so
// "absent" is distinguishable from zero.
type Paper struct {
	ID           string          `json:"id"`
	Title        string          `json:"title,omitempty"`
	Abstract     string          `json:"abstract,omitempty"`
	TLDR         string          `json:"tldr,omitempty"`
	Authors      []string        `json:"authors,omitempty"`
	Keywords     []string        `json:"keywords,omitempty"`
	Year         *int            `json:"year,omitempty"`
	VenueID      string          `json:"venue_id,omitempty"`
	Forum        string          `json:"forum,omitempty"`
	Number       *int            `json:"number,omitempty"`
	PDFURL       string          `json:"pdf_url,omitempty"`
	PDFPath      string          `json:"pdf_path,omitempty"`
	Decision     string          `json:"decision,omitempty"`
	DecisionText string          `json:"decision_text,omitempty"`
	RebuttalText string          `json:"rebuttal_text,omitempty"`
	Presentation Presentation    `json:"presentation,omitempty"`
	Rating       *float64        `json:"rating,omitempty"`
	Reviews      []Review        `json:"reviews,omitempty"`
	Content      string          `json:"content,omitempty"` // parsed full text, not persisted as a scalar
	Raw          json.RawMessage `json:"raw,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// Review is a single reviewer report attached to a paper.
type Review struct {
	PaperID       string          `json:"paper_id,omitempty"`
	Idx           int             `json:"idx"`
	Rating        *float64        `json:"rating,omitempty"`
	RatingRaw     string          `json:"rating_raw,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
	ConfidenceRaw string          `json:"confidence_raw,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Strengths     string          `json:"strengths,omitempty"`
	Weaknesses    string          `json:"weaknesses,omitempty"`
	Text          string          `json:"text,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Narrative returns the review body for indexing: the assembled text if
// present, otherwise a composition of the structured fields.
func (r Review) Narrative() string {
	if t := strings.TrimSpace(r.Text); t != "" {
		return t
	}

	var parts []string
	if r.RatingRaw != "" && r.RatingRaw != "N/A" {
		parts = append(parts, "Rating: "+r.RatingRaw)
	}
	if r.ConfidenceRaw != "" && r.ConfidenceRaw != "N/A" {
		parts = append(parts, "Confidence: "+r.ConfidenceRaw)
	}
	for _, s := range []struct{ label, value string }{
		{"Summary", r.Summary},
		{"Strengths", r.Strengths},
		{"Weaknesses", r.Weaknesses},
	} {
		if v := strings.TrimSpace(s.value); v != "" {
			parts = append(parts, s.label+":\n"+v)
		}
	}
	return strings.Join(parts, "\n\n")
}

// HasContent reports whether a parsed full text was supplied.
func (p *Paper) HasContent() bool {
	return strings.TrimSpace(p.Content) != ""
}
