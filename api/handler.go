// Package api exposes the administrative HTTP surface: job control for
// operators and read access to finished reports.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mlin-dev/dailybrief/pkg/core"
	"github.com/mlin-dev/dailybrief/pkg/orchestrator"
)

// Jobs is the orchestrator surface the API needs.
type Jobs interface {
	Enqueue(ctx context.Context, jobType core.JobType, targetDate, requestedBy string, force bool) (*core.Job, bool, error)
	Cancel(ctx context.Context, jobID string) error
	Reclaim(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (*orchestrator.JobView, error)
	List(ctx context.Context, filter core.JobFilter) ([]orchestrator.JobView, error)
}

// Reports is the report read surface the API needs.
type Reports interface {
	GetReport(ctx context.Context, reportID string) (*core.Report, error)
	GetReportByDate(ctx context.Context, typ core.ReportType, date string) (*core.Report, error)
}

// Handler serves the admin and report endpoints.
type Handler struct {
	jobs    Jobs
	reports Reports
	logger  *slog.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(jobs Jobs, reports Reports, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{jobs: jobs, reports: reports, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.health)

	admin := r.Group("/admin")
	{
		admin.POST("/jobs", h.enqueueJob)
		admin.GET("/jobs", h.listJobs)
		admin.GET("/jobs/:id", h.getJob)
		admin.POST("/jobs/:id/cancel", h.cancelJob)
		admin.POST("/jobs/:id/reclaim", h.reclaimJob)
	}

	reportsGroup := r.Group("/reports")
	{
		reportsGroup.GET("/:id", h.getReport)
		reportsGroup.GET("/daily/:date", h.getDailyReport)
	}

	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type enqueueRequest struct {
	JobType     string `json:"job_type" binding:"required"`
	TargetDate  string `json:"target_date" binding:"required"`
	RequestedBy string `json:"requested_by"`
	Force       bool   `json:"force"`
}

// enqueueJob admits a regeneration job. A deduplicated enqueue answers 200
// with the existing job; a fresh admission answers 201.
func (h *Handler) enqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": err.Error()})
		return
	}

	job, created, err := h.jobs.Enqueue(c.Request.Context(), core.JobType(req.JobType), req.TargetDate, req.RequestedBy, req.Force)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"job": job, "created": created})
}

func (h *Handler) listJobs(c *gin.Context) {
	filter := core.JobFilter{
		Status: core.JobStatus(c.Query("status")),
		Type:   core.JobType(c.Query("job_type")),
	}
	if filter.Status != "" && !core.ValidJobStatus(filter.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "unknown status filter"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	views, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (h *Handler) getJob(c *gin.Context) {
	view, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": view})
}

func (h *Handler) cancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Cancel(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": core.StatusFailed})
}

func (h *Handler) reclaimJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Reclaim(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": core.StatusFailed})
}

func (h *Handler) getReport(c *gin.Context) {
	report, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeReport(c, report)
}

func (h *Handler) getDailyReport(c *gin.Context) {
	date := c.Param("date")
	if _, err := core.ParseDate(date); err != nil {
		h.writeError(c, core.ErrInvalidTargetDate)
		return
	}
	report, err := h.reports.GetReportByDate(c.Request.Context(), core.ReportDaily, date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeReport(c, report)
}

func (h *Handler) writeReport(c *gin.Context, report *core.Report) {
	content, err := report.DecodeContent()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             report.ID,
		"report_type":    report.Type,
		"report_date":    report.ReportDate,
		"document_count": report.DocumentCount,
		"created_at":     report.CreatedAt,
		"content":        content,
	})
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, core.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "detail": err.Error()})
	case errors.Is(err, core.ErrInvalidJobType),
		errors.Is(err, core.ErrMissingTargetDate),
		errors.Is(err, core.ErrInvalidTargetDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": err.Error()})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
