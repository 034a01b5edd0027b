package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// JobStatus is the remote service's view of a job. It is only ever set
// from remote responses; the coordinator never synthesizes one.
type JobStatus string

const (
	StatusUnknown   JobStatus = ""
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// ParseJobStatus maps a remote status string onto the known set.
// Anything unrecognized (including absent) is StatusUnknown.
func ParseJobStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "in_progress", "pending":
		return StatusRunning
	case "completed", "complete", "done":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further progress will occur for this status.
// A terminal status is still subject to the payload readiness check.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DataShape tags how the remote service shaped the structured data.
type DataShape int

const (
	// ShapeRecord is a single JSON object, stored as a one-element Items
	// slice so renderers never branch on shape.
	ShapeRecord DataShape = iota

	// ShapeCollection is a JSON array of objects.
	ShapeCollection
)

// StructuredData is the structured portion of a result payload, parsed
// once at the wire boundary into a tagged variant instead of re-sniffing
// the JSON shape inside each renderer.
type StructuredData struct {
	Shape DataShape
	Items []map[string]any
}

// UnmarshalJSON accepts either a JSON object or an array of objects.
func (d *StructuredData) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*d = StructuredData{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []map[string]any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("parse structured collection: %w", err)
		}
		*d = StructuredData{Shape: ShapeCollection, Items: items}
		return nil
	case '{':
		var item map[string]any
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return fmt.Errorf("parse structured record: %w", err)
		}
		*d = StructuredData{Shape: ShapeRecord, Items: []map[string]any{item}}
		return nil
	default:
		return fmt.Errorf("structured data must be a JSON object or array, got %q", trimmed[0])
	}
}

// MarshalJSON writes the data back in its original shape.
func (d StructuredData) MarshalJSON() ([]byte, error) {
	if d.Shape == ShapeRecord && len(d.Items) == 1 {
		return json.Marshal(d.Items[0])
	}
	return json.Marshal(d.Items)
}

// ScreenshotRef points at a captured screenshot held by the remote
// service's storage. The URL may be a bare object key that still needs
// signing before it is fetchable.
type ScreenshotRef struct {
	URL string `json:"url"`
}

// ResultPayload is the raw result record for one session. Any subset of
// the optional fields may be populated.
type ResultPayload struct {
	Status       JobStatus       `json:"status,omitempty"`
	ProseText    string          `json:"prose_text,omitempty"`
	Screenshot   *ScreenshotRef  `json:"screenshot,omitempty"`
	Structured   *StructuredData `json:"structured,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
}

// Ready reports whether the payload actually carries a result. The remote
// service is known to report a completed status before any content is
// attached, so a terminal status alone is not enough to stop polling.
func (p *ResultPayload) Ready() bool {
	if p == nil {
		return false
	}
	return p.ProseText != "" || p.Screenshot != nil
}

// RenderedResult is the formatter's output: a body plus its media type.
// Constructed and returned within one call, never retained.
type RenderedResult struct {
	MediaType string
	Body      []byte
}

// QuickResult is the composite representation: prose and the screenshot
// URL (not bytes) plus status metadata in one object. Absent fields are
// null, never omitted, so callers can distinguish "no text" from a
// truncated response.
type QuickResult struct {
	Status        string  `json:"status"`
	ProseText     *string `json:"prose_text"`
	ScreenshotURL *string `json:"screenshot_url"`
	GeneratedAt   string  `json:"generated_at"`
}
