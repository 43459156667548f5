package models

import (
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// Document is a file attached to an instruction.
type Document struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// DataURL encodes the document as a self-contained data URL for transport.
func (d *Document) DataURL() string {
	mime := d.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return dataurl.New(d.Data, mime).String()
}

// GenerationRequest is what the generation client sends upstream. Optional fields are
// nil/empty when absent and are then omitted from the prompt entirely.
type GenerationRequest struct {
	InstructionText      string
	DiagramCategoryLabel string
	PriorMarkup          string
	DocumentDataURL      string
	DocumentName         string
}

// HasDocument reports whether a document payload is attached.
func (r GenerationRequest) HasDocument() bool {
	return r.DocumentDataURL != ""
}

// IsModification reports whether the request edits existing markup.
func (r GenerationRequest) IsModification() bool {
	return strings.TrimSpace(r.PriorMarkup) != ""
}

// GenerationResult is the normalized upstream response.
type GenerationResult struct {
	Markup            string `json:"diagramCode"`
	SuggestedCategory string `json:"suggestedDiagramType,omitempty"`
	SuggestionReason  string `json:"suggestionReason,omitempty"`
}

// HasSuggestion reports whether both suggestion fields are present.
func (r *GenerationResult) HasSuggestion() bool {
	return r.SuggestedCategory != "" && r.SuggestionReason != ""
}

// NormalizeSuggestion clears the suggestion fields unless they form a complete
// suggestion for a known category other than selectedID.
func NormalizeSuggestion(r *GenerationResult, selectedID string) {
	r.SuggestedCategory = strings.TrimSpace(r.SuggestedCategory)
	r.SuggestionReason = strings.TrimSpace(r.SuggestionReason)

	_, known := LookupCategory(r.SuggestedCategory)
	if !r.HasSuggestion() || !known || r.SuggestedCategory == selectedID {
		r.SuggestedCategory = ""
		r.SuggestionReason = ""
	}
}
