package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"nfcom/pkg/models"
)

const (
	requestIDKey = "request_id"
	dateLayout   = "2006-01-02"
	defaultLimit = 100
	maxLimit     = 1000
)

func newRequestID() string {
	return uuid.NewString()
}

func requestID(c echo.Context) string {
	id, _ := c.Get(requestIDKey).(string)
	return id
}

type runRequest struct {
	// Date is the run date, YYYY-MM-DD. Empty means today.
	Date string `json:"date"`
}

type retryRequest struct {
	DocumentIDs []uint `json:"document_ids"`
	Status      string `json:"status"`
	Limit       int    `json:"limit"`
}

type notificationRequest struct {
	DocumentIDs []uint `json:"document_ids"`
}

type jobResponse struct {
	ID        string           `json:"id"`
	Total     int              `json:"total"`
	Status    models.JobStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) runEmission(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(malformedJSONError.Code(), malformedJSONError)
	}

	runDate := s.now()
	if req.Date != "" {
		d, err := time.ParseInLocation(dateLayout, req.Date, time.UTC)
		if err != nil {
			return s.fail(c, newError(http.StatusBadRequest, "date must be YYYY-MM-DD"))
		}
		runDate = d
	}

	report, err := s.emissions.Run(c.Request().Context(), runDate)
	if err != nil && report == nil {
		return s.fail(c, err)
	}
	if err != nil {
		// interrupted passes still report what was processed
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) retryDocuments(c echo.Context) error {
	var req retryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(malformedJSONError.Code(), malformedJSONError)
	}
	ctx := c.Request().Context()

	switch {
	case len(req.DocumentIDs) > 0 && req.Status != "":
		return s.fail(c, newError(http.StatusBadRequest, "use either document_ids or status"))
	case len(req.DocumentIDs) > 0:
		report, err := s.emissions.Retry(ctx, req.DocumentIDs)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, report)
	case req.Status != "":
		status := models.DocumentStatus(req.Status)
		if !status.Valid() {
			return s.fail(c, newError(http.StatusBadRequest, "unknown status "+strconv.Quote(req.Status)))
		}
		report, err := s.emissions.RetryStatus(ctx, status, clampLimit(req.Limit))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, report)
	}
	return s.fail(c, newError(http.StatusBadRequest, "document_ids or status is required"))
}

func (s *Server) listDocuments(c echo.Context) error {
	status := models.DocumentStatus(c.QueryParam("status"))
	if !status.Valid() {
		return s.fail(c, newError(http.StatusBadRequest, "status query parameter is required and must be a document status"))
	}
	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return s.fail(c, newError(http.StatusBadRequest, "limit must be a positive integer"))
		}
		limit = clampLimit(n)
	}

	docs, err := s.documents.DocumentsByStatus(c.Request().Context(), status, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"documents": docs, "count": len(docs)})
}

func (s *Server) countDocuments(c echo.Context) error {
	counts, err := s.documents.CountByStatus(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (s *Server) startNotification(c echo.Context) error {
	var req notificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(malformedJSONError.Code(), malformedJSONError)
	}
	job, err := s.notifications.Start(c.Request().Context(), req.DocumentIDs)
	if err != nil {
		return s.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/notifications/jobs/"+job.ID)
	return c.JSON(http.StatusAccepted, jobResponse{
		ID:        job.ID,
		Total:     job.Total,
		Status:    job.Status,
		StartedAt: job.StartedAt,
	})
}

func (s *Server) getNotification(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return s.fail(c, newError(http.StatusBadRequest, "job id must be a UUID"))
	}
	job, err := s.documents.Job(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
