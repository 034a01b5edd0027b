// Package formatter turns raw result payloads into typed, content-
// negotiated representations. The flattening renderers are pure; the
// screenshot and lazy-structured paths go through injected
// collaborators so this package never owns a connection.
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/harvest/models"
)

// Signer turns a stored screenshot reference into a fetchable URL.
type Signer interface {
	Sign(ctx context.Context, ref string) (string, error)
}

// StructuredFetcher lazily retrieves the structured representation for
// a session when the minimal payload did not include it.
type StructuredFetcher interface {
	FetchStructured(ctx context.Context, sessionID string) (*models.StructuredData, error)
}

// Formatter renders result payloads. The zero value renders every
// text format; Signer, Fetcher, and HTTPClient unlock screenshots and
// lazy structured fetches.
type Formatter struct {
	Signer     Signer
	Fetcher    StructuredFetcher
	HTTPClient *http.Client

	// Now stamps quick results; defaults to time.Now.
	Now func() time.Time
}

// Render produces the representation for the requested format. It never
// fails on a missing optional field: formats whose source is absent
// degrade to an explicit "not available" result, except the structured
// family, which reports a no-data condition the caller can surface.
func (f *Formatter) Render(ctx context.Context, sessionID string, p *models.ResultPayload, format models.Format) (*models.RenderedResult, error) {
	switch format {
	case models.FormatMarkdown:
		return proseResult(p, "text/markdown"), nil
	case models.FormatHTML:
		return proseResult(p, "text/html"), nil
	case models.FormatJSON:
		data, err := f.structured(ctx, sessionID, p)
		if err != nil {
			return nil, err
		}
		body, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("serialize structured data: %w", err)
		}
		return &models.RenderedResult{MediaType: "application/json", Body: body}, nil
	case models.FormatCSV:
		data, err := f.structured(ctx, sessionID, p)
		if err != nil {
			return nil, err
		}
		body, err := renderCSV(data)
		if err != nil {
			return nil, err
		}
		return &models.RenderedResult{MediaType: "text/csv", Body: body}, nil
	case models.FormatXML:
		data, err := f.structured(ctx, sessionID, p)
		if err != nil {
			return nil, err
		}
		body, err := renderXML(data)
		if err != nil {
			return nil, err
		}
		return &models.RenderedResult{MediaType: "application/xml", Body: body}, nil
	case models.FormatScreenshot:
		return f.renderScreenshot(ctx, p)
	case models.FormatQuick:
		return f.renderQuick(p)
	default:
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, fmt.Sprintf("unknown format %q", format), nil)
	}
}

func proseResult(p *models.ResultPayload, mediaType string) *models.RenderedResult {
	if p == nil || p.ProseText == "" {
		return &models.RenderedResult{
			MediaType: "text/plain",
			Body:      []byte("no text content available for this session"),
		}
	}
	return &models.RenderedResult{MediaType: mediaType, Body: []byte(p.ProseText)}
}

// structured returns the payload's structured data, fetching it lazily
// when the minimal payload omitted it. No data from either source is a
// no-data condition, never an empty document.
func (f *Formatter) structured(ctx context.Context, sessionID string, p *models.ResultPayload) (*models.StructuredData, error) {
	if p != nil && p.Structured != nil && len(p.Structured.Items) > 0 {
		return p.Structured, nil
	}
	if f.Fetcher != nil {
		data, err := f.Fetcher.FetchStructured(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if data != nil && len(data.Items) > 0 {
			return data, nil
		}
	}
	return nil, models.NewHarvestError(models.ErrCodeNoData, "no structured data available for this session", nil)
}

// renderQuick bundles prose and the screenshot URL (not the bytes) with
// status metadata. Absent fields serialize as null, never omitted, so
// the composite round-trips losslessly.
func (f *Formatter) renderQuick(p *models.ResultPayload) (*models.RenderedResult, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	q := models.QuickResult{
		Status:      "unknown",
		GeneratedAt: now().UTC().Format(time.RFC3339),
	}
	if p != nil {
		if p.Status != models.StatusUnknown {
			q.Status = string(p.Status)
		}
		if p.ProseText != "" {
			text := p.ProseText
			q.ProseText = &text
		}
		if p.Screenshot != nil {
			u := p.Screenshot.URL
			q.ScreenshotURL = &u
		}
	}

	body, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize quick result: %w", err)
	}
	return &models.RenderedResult{MediaType: "application/json", Body: body}, nil
}

// renderScreenshot resolves the reference to a signed URL and fetches
// the bytes. A payload without a screenshot degrades to an explicit
// "not available" result rather than an error.
func (f *Formatter) renderScreenshot(ctx context.Context, p *models.ResultPayload) (*models.RenderedResult, error) {
	if p == nil || p.Screenshot == nil {
		return &models.RenderedResult{
			MediaType: "text/plain",
			Body:      []byte("no screenshot available for this session"),
		}, nil
	}

	ref := p.Screenshot.URL
	if f.Signer != nil {
		signed, err := f.Signer.Sign(ctx, ref)
		if err != nil {
			return nil, models.NewHarvestError(models.ErrCodeStorage, "sign screenshot reference", err)
		}
		ref = signed
	}

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeStorage, "build screenshot request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeStorage, "fetch screenshot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, models.NewHarvestError(models.ErrCodeStorage,
			fmt.Sprintf("screenshot fetch returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeStorage, "read screenshot bytes", err)
	}

	mediaType := "image/jpeg"
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		mediaType = ct
	}
	return &models.RenderedResult{MediaType: mediaType, Body: body}, nil
}

// renderCSV flattens records into delimited text. Columns are the union
// of keys across all records, sorted for a deterministic header. A
// single record renders identically to a one-element collection.
func renderCSV(data *models.StructuredData) ([]byte, error) {
	columns := columnSet(data.Items)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, item := range data.Items {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = cellString(item[col])
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// columnSet returns the sorted union of keys across records.
func columnSet(items []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, item := range items {
		for k := range item {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// cellString renders one value as flat text. Nested structures fall
// back to their JSON encoding.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
