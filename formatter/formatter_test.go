package formatter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/formatter"
	"github.com/use-agent/harvest/models"
)

type fakeFetcher struct {
	data *models.StructuredData
	err  error
}

func (f *fakeFetcher) FetchStructured(context.Context, string) (*models.StructuredData, error) {
	return f.data, f.err
}

type fakeSigner struct {
	url string
	err error
}

func (f *fakeSigner) Sign(context.Context, string) (string, error) {
	return f.url, f.err
}

func record(m map[string]any) *models.StructuredData {
	return &models.StructuredData{Shape: models.ShapeRecord, Items: []map[string]any{m}}
}

func collection(items ...map[string]any) *models.StructuredData {
	return &models.StructuredData{Shape: models.ShapeCollection, Items: items}
}

func TestRenderProse(t *testing.T) {
	t.Parallel()

	t.Run("markdown returns prose verbatim", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{ProseText: "# Title\n\nbody"}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatMarkdown)

		require.NoError(t, err)
		assert.Equal(t, "text/markdown", res.MediaType)
		assert.Equal(t, "# Title\n\nbody", string(res.Body))
	})

	t.Run("html uses the html media type", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{ProseText: "<p>hi</p>"}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatHTML)

		require.NoError(t, err)
		assert.Equal(t, "text/html", res.MediaType)
		assert.Equal(t, "<p>hi</p>", string(res.Body))
	})

	t.Run("missing prose degrades to explicit not-available text", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Screenshot: &models.ScreenshotRef{URL: "x"}}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatMarkdown)

		require.NoError(t, err)
		assert.Equal(t, "text/plain", res.MediaType)
		assert.Contains(t, string(res.Body), "no text content")
	})
}

func TestRenderCSV(t *testing.T) {
	t.Parallel()

	t.Run("single record yields one row with sorted columns", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Structured: record(map[string]any{"a": float64(1), "b": float64(2)})}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatCSV)

		require.NoError(t, err)
		assert.Equal(t, "text/csv", res.MediaType)
		assert.Equal(t, "a,b\n1,2\n", string(res.Body))
	})

	t.Run("single record equals one-element collection", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		item := map[string]any{"name": "widget", "price": 9.5}

		asRecord, err := fm.Render(context.Background(), "s1",
			&models.ResultPayload{Structured: record(item)}, models.FormatCSV)
		require.NoError(t, err)

		asCollection, err := fm.Render(context.Background(), "s1",
			&models.ResultPayload{Structured: collection(item)}, models.FormatCSV)
		require.NoError(t, err)

		assert.Equal(t, string(asRecord.Body), string(asCollection.Body))
	})

	t.Run("columns are the union of keys across records", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Structured: collection(
			map[string]any{"a": "x"},
			map[string]any{"b": "y"},
		)}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatCSV)

		require.NoError(t, err)
		assert.Equal(t, "a,b\nx,\n,y\n", string(res.Body))
	})

	t.Run("nested values fall back to JSON encoding", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Structured: record(map[string]any{
			"tags": []any{"a", "b"},
		})}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatCSV)

		require.NoError(t, err)
		assert.Contains(t, string(res.Body), `"[""a"",""b""]"`)
	})

	t.Run("no structured data is a no-data condition", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{ProseText: "only prose"}

		_, err := fm.Render(context.Background(), "s1", payload, models.FormatCSV)

		require.Error(t, err)
		assert.Equal(t, models.ErrCodeNoData, models.CodeOf(err))
	})
}

func TestRenderXML(t *testing.T) {
	t.Parallel()

	t.Run("record renders as one result element", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Structured: record(map[string]any{"a": float64(1), "b": float64(2)})}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatXML)

		require.NoError(t, err)
		assert.Equal(t, "application/xml", res.MediaType)
		body := string(res.Body)
		assert.Contains(t, body, "<results>")
		assert.Contains(t, body, "<result>")
		assert.Contains(t, body, "<a>1</a>")
		assert.Contains(t, body, "<b>2</b>")
	})

	t.Run("single record equals one-element collection", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		item := map[string]any{"title": "hello"}

		asRecord, err := fm.Render(context.Background(), "s1",
			&models.ResultPayload{Structured: record(item)}, models.FormatXML)
		require.NoError(t, err)

		asCollection, err := fm.Render(context.Background(), "s1",
			&models.ResultPayload{Structured: collection(item)}, models.FormatXML)
		require.NoError(t, err)

		assert.Equal(t, string(asRecord.Body), string(asCollection.Body))
	})

	t.Run("awkward keys become safe element names", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Structured: record(map[string]any{
			"unit price": "3",
			"1st":        "x",
		})}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatXML)

		require.NoError(t, err)
		body := string(res.Body)
		assert.Contains(t, body, "<unit_price>")
		assert.Contains(t, body, "<_1st>")
	})
}

func TestRenderJSON(t *testing.T) {
	t.Parallel()

	t.Run("serializes structured data in its original shape", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Structured: record(map[string]any{"a": float64(1)})}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatJSON)

		require.NoError(t, err)
		assert.Equal(t, "application/json", res.MediaType)
		assert.JSONEq(t, `{"a":1}`, string(res.Body))
	})

	t.Run("fetches structured data lazily when absent", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{
			Fetcher: &fakeFetcher{data: record(map[string]any{"fetched": true})},
		}
		payload := &models.ResultPayload{ProseText: "prose only"}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatJSON)

		require.NoError(t, err)
		assert.JSONEq(t, `{"fetched":true}`, string(res.Body))
	})

	t.Run("lazy fetch yielding nothing is a no-data condition", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{Fetcher: &fakeFetcher{}}
		payload := &models.ResultPayload{ProseText: "prose only"}

		_, err := fm.Render(context.Background(), "s1", payload, models.FormatJSON)

		require.Error(t, err)
		assert.Equal(t, models.ErrCodeNoData, models.CodeOf(err))
	})
}

func TestRenderQuick(t *testing.T) {
	t.Parallel()

	t.Run("round-trips prose and screenshot URL exactly", func(t *testing.T) {
		t.Parallel()

		fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		fm := &formatter.Formatter{Now: func() time.Time { return fixed }}
		payload := &models.ResultPayload{
			Status:     models.StatusCompleted,
			ProseText:  "Hello",
			Screenshot: &models.ScreenshotRef{URL: "shots/a.jpg"},
		}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatQuick)
		require.NoError(t, err)
		assert.Equal(t, "application/json", res.MediaType)

		var q models.QuickResult
		require.NoError(t, json.Unmarshal(res.Body, &q))
		require.NotNil(t, q.ProseText)
		require.NotNil(t, q.ScreenshotURL)
		assert.Equal(t, payload.ProseText, *q.ProseText)
		assert.Equal(t, payload.Screenshot.URL, *q.ScreenshotURL)
		assert.Equal(t, "completed", q.Status)
		assert.Equal(t, "2025-06-01T12:00:00Z", q.GeneratedAt)
	})

	t.Run("nil payload renders an unknown-status bundle", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}

		res, err := fm.Render(context.Background(), "s1", nil, models.FormatQuick)

		require.NoError(t, err)
		body := string(res.Body)
		assert.Contains(t, body, `"status": "unknown"`)
		assert.Contains(t, body, `"prose_text": null`)
		assert.Contains(t, body, `"screenshot_url": null`)
	})

	t.Run("absent fields are null, never omitted", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{Status: models.StatusRunning}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatQuick)

		require.NoError(t, err)
		body := string(res.Body)
		assert.Contains(t, body, `"prose_text": null`)
		assert.Contains(t, body, `"screenshot_url": null`)
		assert.Contains(t, body, `"status": "running"`)
	})
}

func TestRenderScreenshot(t *testing.T) {
	t.Parallel()

	t.Run("missing screenshot degrades to not-available text", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{}
		payload := &models.ResultPayload{ProseText: "text only"}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatScreenshot)

		require.NoError(t, err)
		assert.Equal(t, "text/plain", res.MediaType)
		assert.Contains(t, string(res.Body), "no screenshot")
	})

	t.Run("signs the reference and fetches the bytes", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png-bytes"))
		}))
		defer srv.Close()

		fm := &formatter.Formatter{
			Signer:     &fakeSigner{url: srv.URL + "/shots/a.png"},
			HTTPClient: srv.Client(),
		}
		payload := &models.ResultPayload{Screenshot: &models.ScreenshotRef{URL: "shots/a.png"}}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatScreenshot)

		require.NoError(t, err)
		assert.Equal(t, "image/png", res.MediaType)
		assert.Equal(t, "png-bytes", string(res.Body))
	})

	t.Run("defaults to jpeg when content type is missing", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header()["Content-Type"] = nil
			w.Write([]byte{0xff, 0xd8})
		}))
		defer srv.Close()

		fm := &formatter.Formatter{
			Signer:     &fakeSigner{url: srv.URL},
			HTTPClient: srv.Client(),
		}
		payload := &models.ResultPayload{Screenshot: &models.ScreenshotRef{URL: "shots/a.jpg"}}

		res, err := fm.Render(context.Background(), "s1", payload, models.FormatScreenshot)

		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", res.MediaType)
	})

	t.Run("signer failure is a storage failure", func(t *testing.T) {
		t.Parallel()

		fm := &formatter.Formatter{
			Signer: &fakeSigner{err: assert.AnError},
		}
		payload := &models.ResultPayload{Screenshot: &models.ScreenshotRef{URL: "shots/a.jpg"}}

		_, err := fm.Render(context.Background(), "s1", payload, models.FormatScreenshot)

		require.Error(t, err)
		assert.Equal(t, models.ErrCodeStorage, models.CodeOf(err))
	})

	t.Run("upstream error status is a storage failure", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		fm := &formatter.Formatter{
			Signer:     &fakeSigner{url: srv.URL},
			HTTPClient: srv.Client(),
		}
		payload := &models.ResultPayload{Screenshot: &models.ScreenshotRef{URL: "shots/a.jpg"}}

		_, err := fm.Render(context.Background(), "s1", payload, models.FormatScreenshot)

		require.Error(t, err)
		assert.Equal(t, models.ErrCodeStorage, models.CodeOf(err))
	})
}
