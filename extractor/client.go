// Package extractor is the HTTP client for the remote extraction service.
// The service is stateless from our perspective: submit and status calls
// are correlated only by the caller-generated session id, so one client
// is safe for concurrent use by any number of coordinators.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Service is the remote extraction service surface the coordinator
// depends on. Implemented by Client; tests substitute fakes.
type Service interface {
	// Submit starts an extraction job. The response either inlines an
	// immediate result (no job id) or hands back a deferred job.
	Submit(ctx context.Context, prompt, sessionID string) (*SubmitResponse, error)

	// Status fetches the current state of a session. The format hint
	// tells the service which representation to attach when ready.
	Status(ctx context.Context, sessionID string, hint models.Format) (*StatusResponse, error)

	// Screenshot submits a screenshot capture job. Fire-and-forget:
	// callers materialize the result later by session id.
	Screenshot(ctx context.Context, pageURL, sessionID string) (*Ack, error)
}

// StatusResponse is the remote service's report for one session. The
// processing flag is set independently of status and wins over it.
type StatusResponse struct {
	Processing *bool                  `json:"processing,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Text       string                 `json:"text,omitempty"`
	Screenshot *models.ScreenshotRef  `json:"screenshot,omitempty"`
	Data       *models.StructuredData `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// InProgress reports whether the service flagged the session as still
// processing, regardless of any status value in the same response.
func (r *StatusResponse) InProgress() bool {
	return r.Processing != nil && *r.Processing
}

// Payload converts the wire response into a result payload.
func (r *StatusResponse) Payload() *models.ResultPayload {
	return &models.ResultPayload{
		Status:       models.ParseJobStatus(r.Status),
		ProseText:    r.Text,
		Screenshot:   r.Screenshot,
		Structured:   r.Data,
		ErrorMessage: r.Error,
	}
}

// SubmitResponse is the reply to a submit call. An empty JobID means the
// service answered synchronously and the embedded status fields carry
// the immediate result.
type SubmitResponse struct {
	JobID string `json:"job_id,omitempty"`
	StatusResponse
}

// Ack acknowledges a fire-and-forget submission.
type Ack struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
}

// Client talks to the extraction service over HTTP. Outgoing calls are
// bounded by a token bucket so a tight poll loop cannot hammer the
// remote end.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// NewClient creates a client from the extractor configuration.
func NewClient(cfg config.ExtractorConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

type submitRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`

	// Render false defers heavy rendering: the service returns only the
	// minimal payload needed to decide readiness, and fuller
	// representations are fetched lazily by format hint.
	Render bool `json:"render"`
}

type screenshotRequest struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// Submit implements Service.
func (c *Client) Submit(ctx context.Context, prompt, sessionID string) (*SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/v1/extract", submitRequest{
		Prompt:    prompt,
		SessionID: sessionID,
		Render:    false,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status implements Service.
func (c *Client) Status(ctx context.Context, sessionID string, hint models.Format) (*StatusResponse, error) {
	path := fmt.Sprintf("/v1/sessions/%s/result?format=%s", url.PathEscape(sessionID), url.QueryEscape(string(hint)))
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Screenshot implements Service.
func (c *Client) Screenshot(ctx context.Context, pageURL, sessionID string) (*Ack, error) {
	var out Ack
	err := c.do(ctx, http.MethodPost, "/v1/screenshot", screenshotRequest{
		URL:       pageURL,
		SessionID: sessionID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchStructured retrieves the structured representation for a session.
// Used lazily when the minimal payload did not include structured data.
func (c *Client) FetchStructured(ctx context.Context, sessionID string) (*models.StructuredData, error) {
	st, err := c.Status(ctx, sessionID, models.FormatJSON)
	if err != nil {
		return nil, err
	}
	return st.Data, nil
}

// do performs one request. A single attempt per call: retries belong to
// the poll loop above, not to the transport.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.NewHarvestError(models.ErrCodeCancelled, "request cancelled", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewHarvestError(models.ErrCodeTransport, "extraction service unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewHarvestError(models.ErrCodeTransport, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewHarvestError(models.ErrCodeUnauthorized, "extraction service rejected the API key", nil)
	case resp.StatusCode == http.StatusNotFound:
		return models.NewHarvestError(models.ErrCodeNoSession, "no such session", nil)
	case resp.StatusCode >= 400:
		return models.NewHarvestError(models.ErrCodeTransport,
			fmt.Sprintf("extraction service returned %d: %s", resp.StatusCode, truncate(respBody, 200)), nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return models.NewHarvestError(models.ErrCodeTransport, "parse response", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
