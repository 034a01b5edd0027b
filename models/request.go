package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Format is the output representation requested by the caller.
type Format string

const (
	// FormatMarkdown returns the prose result verbatim as markdown.
	FormatMarkdown Format = "markdown"

	// FormatHTML returns the prose result verbatim as HTML. The format is
	// passed to the remote service as a render hint, so the prose field
	// carries HTML when this format is requested.
	FormatHTML Format = "html"

	// FormatJSON returns the structured data as JSON.
	FormatJSON Format = "json"

	// FormatCSV flattens the structured data into delimited text.
	FormatCSV Format = "csv"

	// FormatXML flattens the structured data into an XML document.
	FormatXML Format = "xml"

	// FormatScreenshot returns the captured screenshot bytes.
	FormatScreenshot Format = "screenshot"

	// FormatQuick bundles prose, the screenshot URL, and status metadata
	// into one JSON object, avoiding a second round trip.
	FormatQuick Format = "quick"
)

// ParseFormat normalizes a caller-supplied format string.
// An empty string defaults to markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md", "prose":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "json", "structured":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "xml":
		return FormatXML, nil
	case "screenshot":
		return FormatScreenshot, nil
	case "quick", "composite":
		return FormatQuick, nil
	default:
		return "", NewHarvestError(ErrCodeInvalidInput, fmt.Sprintf("unknown format %q", s), nil)
	}
}

// NeedsStructured reports whether the format is rendered from structured
// data rather than prose or a screenshot.
func (f Format) NeedsStructured() bool {
	return f == FormatJSON || f == FormatCSV || f == FormatXML
}

// ExtractionRequest describes one scraping request against the remote
// extraction service. Immutable after creation.
type ExtractionRequest struct {
	// Prompt is the natural-language description of what to extract.
	Prompt string

	// Format is the requested output representation.
	Format Format

	// SessionID correlates the submit call with subsequent status polls.
	// Generated locally, unique per request, never reused across retries.
	SessionID string
}

// NewExtractionRequest creates a request with a freshly generated session id.
func NewExtractionRequest(prompt string, format Format) *ExtractionRequest {
	return &ExtractionRequest{
		Prompt:    prompt,
		Format:    format,
		SessionID: uuid.NewString(),
	}
}
