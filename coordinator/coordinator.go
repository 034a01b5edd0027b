// Package coordinator owns the submit → poll → finalize lifecycle for
// one extraction request. One Resolve call handles one request
// sequentially; concurrent requests each get their own loop and share
// nothing but the extraction client.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/extractor"
	"github.com/use-agent/harvest/models"
)

// progressTotal is the maximum progress value, reported exactly once on
// success. Intermediate values are capped just below it.
const progressTotal = 100

// ProgressSink receives progress notifications for one request.
// Delivery is fire-and-forget: the coordinator never awaits an
// acknowledgement and ignores sink failures.
type ProgressSink interface {
	Notify(ctx context.Context, progress, total float64)
}

// SinkFunc adapts a function to the ProgressSink interface.
type SinkFunc func(ctx context.Context, progress, total float64)

func (f SinkFunc) Notify(ctx context.Context, progress, total float64) {
	f(ctx, progress, total)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, float64, float64) {}

// Store receives terminal payloads for later materialization. Optional.
type Store interface {
	Put(sessionID string, p *models.ResultPayload)
}

// Coordinator resolves extraction requests against the remote service.
// Safe for concurrent use: all per-request state lives in Resolve.
type Coordinator struct {
	service  extractor.Service
	interval time.Duration
	store    Store
	logger   *slog.Logger
}

// New creates a coordinator polling at the given fixed interval.
// The store is optional; pass nil when materialization is not needed.
func New(service extractor.Service, interval time.Duration, store Store) *Coordinator {
	return &Coordinator{
		service:  service,
		interval: interval,
		store:    store,
		logger:   slog.Default(),
	}
}

// Resolve submits the request and polls until the payload is actually
// ready, the job fails, or ctx is cancelled. Every successful return
// carries prose text or a screenshot reference, and the sink has been
// notified with the final value exactly once.
//
// There is no built-in iteration cap: callers requiring bounded latency
// attach a deadline to ctx, which is observed at every suspension point.
func (c *Coordinator) Resolve(ctx context.Context, req *models.ExtractionRequest, sink ProgressSink) (*models.ResultPayload, error) {
	if sink == nil {
		sink = nopSink{}
	}

	sub, err := c.service.Submit(ctx, req.Prompt, req.SessionID)
	if err != nil {
		return nil, err
	}

	// The processing flag wins over everything else in the submit
	// response too: a failure or inline result alongside it is stale.
	if !sub.StatusResponse.InProgress() {
		if failed, msg := jobFailure(&sub.StatusResponse); failed {
			return nil, models.NewHarvestError(models.ErrCodeJobFailed, msg, nil)
		}

		// No job handle means the service answered synchronously. The
		// immediate result still has to pass the readiness check; if it
		// does not, fall through to polling like any deferred job.
		if sub.JobID == "" {
			if p := sub.Payload(); p.Ready() {
				c.finish(ctx, req, p, sink)
				return p, nil
			}
		}
	}

	if sub.JobID != "" {
		c.logger.Debug("extraction deferred", "session", req.SessionID, "job", sub.JobID)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-ctx.Done():
			return nil, models.NewHarvestError(models.ErrCodeCancelled, "extraction cancelled", ctx.Err())
		case <-ticker.C:
		}

		st, err := c.service.Status(ctx, req.SessionID, req.Format)
		if err != nil {
			// Single attempt per tick; transport failures surface to
			// the caller rather than being retried here.
			return nil, err
		}

		// The processing flag wins over everything else in the same
		// response, including a terminal status.
		if st.InProgress() {
			tick++
			sink.Notify(ctx, intermediate(tick), progressTotal)
			continue
		}

		if failed, msg := jobFailure(st); failed {
			return nil, models.NewHarvestError(models.ErrCodeJobFailed, msg, nil)
		}

		p := st.Payload()
		switch p.Status {
		case models.StatusCompleted:
			if p.Ready() {
				c.finish(ctx, req, p, sink)
				return p, nil
			}
			// Completed with no content: the service reports terminal
			// before the payload is attached. Keep polling.
			c.logger.Debug("terminal status with empty payload, continuing to poll", "session", req.SessionID)
		case models.StatusUnknown:
			// The service sometimes omits status on completion; a ready
			// payload is an implicit success.
			if p.Ready() {
				c.finish(ctx, req, p, sink)
				return p, nil
			}
		}

		tick++
		sink.Notify(ctx, intermediate(tick), progressTotal)
	}
}

// finish deposits the ready payload for later materialization and emits
// the final progress notification, in that order, immediately before
// the success return.
func (c *Coordinator) finish(ctx context.Context, req *models.ExtractionRequest, p *models.ResultPayload, sink ProgressSink) {
	if c.store != nil {
		c.store.Put(req.SessionID, p)
	}
	sink.Notify(ctx, progressTotal, progressTotal)
}

// jobFailure reports whether the response is an explicit remote failure:
// a failed status or any error message, whichever arrives first.
func jobFailure(st *extractor.StatusResponse) (bool, string) {
	if st.Error != "" {
		return true, st.Error
	}
	if models.ParseJobStatus(st.Status) == models.StatusFailed {
		return true, "extraction job failed"
	}
	return false, ""
}

// intermediate scales the poll counter into a progress value strictly
// below the final one. Only monotonic increase matters to observers.
func intermediate(tick int) float64 {
	if tick >= progressTotal {
		return progressTotal - 1
	}
	return float64(tick)
}
