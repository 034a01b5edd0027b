package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/extractor"
	"github.com/use-agent/harvest/formatter"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
)

// Result returns a handler for GET /api/v1/result.
//
// Materializes a session's payload in the requested format. Stored
// payloads are served directly; on a store miss one live status call is
// made so fire-and-forget jobs (screenshots) can be picked up later.
//
// Response codes:
//
//	200  rendered body (including "still processing" for quick)
//	400  missing session id or unknown format
//	404  no such session, no structured data, or no screenshot yet
//	500  storage or transport failure
func Result(store *session.Store, svc extractor.Service, fm *formatter.Formatter) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session")
		if sessionID == "" {
			fail(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "missing session id")
			return
		}

		format, err := models.ParseFormat(c.Query("format"))
		if err != nil {
			fail(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error())
			return
		}

		payload, ok := store.Get(sessionID)
		if !ok {
			st, err := svc.Status(c.Request.Context(), sessionID, format)
			if err != nil {
				failFromError(c, err)
				return
			}

			p := st.Payload()
			if st.InProgress() || !p.Ready() {
				// Quick always answers: a pending session is a valid
				// composite result with processing status.
				if format == models.FormatQuick {
					pending := &models.ResultPayload{Status: models.StatusRunning}
					renderAndWrite(c, fm, sessionID, pending, format)
					return
				}
				fail(c, http.StatusNotFound, models.ErrCodeNoSession, "no data for this session yet")
				return
			}

			store.Put(sessionID, p)
			payload = p
		}

		if format == models.FormatScreenshot && payload.Screenshot == nil {
			fail(c, http.StatusNotFound, models.ErrCodeNoScreenshot, "no screenshot for this session")
			return
		}

		renderAndWrite(c, fm, sessionID, payload, format)
	}
}

func renderAndWrite(c *gin.Context, fm *formatter.Formatter, sessionID string, p *models.ResultPayload, format models.Format) {
	rendered, err := fm.Render(c.Request.Context(), sessionID, p, format)
	if err != nil {
		failFromError(c, err)
		return
	}
	c.Data(http.StatusOK, rendered.MediaType, rendered.Body)
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error: &models.ErrorDetail{Code: code, Message: message},
	})
}

// failFromError maps the error taxonomy onto HTTP status codes.
func failFromError(c *gin.Context, err error) {
	code := models.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case models.ErrCodeNoSession, models.ErrCodeNoData, models.ErrCodeNoScreenshot:
		status = http.StatusNotFound
	case models.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case models.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case models.ErrCodeStorage, models.ErrCodeTransport, models.ErrCodeInternal:
		status = http.StatusInternalServerError
	}

	detail := &models.ErrorDetail{Code: code, Message: err.Error()}
	var he *models.HarvestError
	if errors.As(err, &he) {
		detail = he.ToDetail()
	}
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: detail})
}
