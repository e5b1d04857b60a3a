package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/middleware"
	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/internal/service"
	"github.com/noah-isme/sma-review-api/pkg/response"
)

type statsService interface {
	Summary(ctx context.Context, q dto.StatsQuery) (*dto.ClassroomStats, bool, error)
	Watch(ctx context.Context, q dto.StatsQuery) (service.StatsStream, error)
	Export(ctx context.Context, q dto.StatsQuery, format dto.ExportFormat) (*dto.ExportResult, error)
}

// StatsHandler serves the review dashboard.
type StatsHandler struct {
	service   statsService
	keepAlive time.Duration
}

// NewStatsHandler constructs the handler. A non-positive keepAlive disables heartbeats on streams.
func NewStatsHandler(svc statsService, keepAlive time.Duration) *StatsHandler {
	return &StatsHandler{service: svc, keepAlive: keepAlive}
}

// Summary godoc
// @Summary Review progress per class
// @Tags Stats
// @Produce json
// @Param classId query []string false "Classes to report on" collectionFormat(multi)
// @Param kind query string false "Document kind"
// @Param planType query string false "Plan cadence"
// @Param week query int false "Week"
// @Param month query int false "Month"
// @Param year query int false "Year"
// @Success 200 {object} response.Envelope
// @Router /reviews/stats [get]
func (h *StatsHandler) Summary(c *gin.Context) {
	stats, cacheHit, err := h.service.Summary(c.Request.Context(), statsQueryFromRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Stream godoc
// @Summary Live review progress as server-sent events
// @Description Emits a "stats" event with the current summary and a new one after every change in scope.
// @Tags Stats
// @Produce text/event-stream
// @Param classId query []string false "Classes to report on" collectionFormat(multi)
// @Param access_token query string false "Access token for clients that cannot set headers"
// @Success 200 {object} dto.ClassroomStats
// @Failure 503 {object} response.Envelope
// @Router /reviews/stats/stream [get]
func (h *StatsHandler) Stream(c *gin.Context) {
	watch, err := h.service.Watch(c.Request.Context(), statsQueryFromRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer watch.Close()

	var heartbeat <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case stats, ok := <-watch.Updates():
			if !ok {
				return false
			}
			c.SSEvent("stats", stats)
			return true
		case <-heartbeat:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// Export godoc
// @Summary Download the review summary
// @Tags Stats
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param classId query []string false "Classes to report on" collectionFormat(multi)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /reviews/stats/export [get]
func (h *StatsHandler) Export(c *gin.Context) {
	result, err := h.service.Export(c.Request.Context(), statsQueryFromRequest(c), dto.ExportFormat(c.DefaultQuery("format", string(dto.ExportFormatCSV))))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func statsQueryFromRequest(c *gin.Context) dto.StatsQuery {
	return dto.StatsQuery{
		ClassIDs: parseQueryList(c, "classId"),
		Kind:     models.DocumentKind(c.Query("kind")),
		PlanType: models.PlanType(c.Query("planType")),
		Week:     parseQueryInt(c, "week", 0),
		Month:    parseQueryInt(c, "month", 0),
		Year:     parseQueryInt(c, "year", 0),
	}
}
