package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/middleware"
	"github.com/noah-isme/sma-review-api/internal/service"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
)

type statsServiceMock struct {
	lastQuery  dto.StatsQuery
	lastFormat dto.ExportFormat
	cacheHit   bool
	stream     *statsStreamStub
}

type statsStreamStub struct {
	updates chan dto.ClassroomStats
	closed  bool
}

func (s *statsStreamStub) Updates() <-chan dto.ClassroomStats { return s.updates }

func (s *statsStreamStub) Close() { s.closed = true }

func (m *statsServiceMock) Summary(ctx context.Context, q dto.StatsQuery) (*dto.ClassroomStats, bool, error) {
	m.lastQuery = q
	return &dto.ClassroomStats{ApprovedCount: 1, Total: 1, Units: []dto.UnitStats{}, Uploaded: []string{"la1"}, Missing: []string{}}, m.cacheHit, nil
}

func (m *statsServiceMock) Watch(ctx context.Context, q dto.StatsQuery) (service.StatsStream, error) {
	m.lastQuery = q
	if m.stream != nil {
		return m.stream, nil
	}
	return nil, appErrors.Clone(appErrors.ErrStoreUnavailable, "live updates are not available")
}

func (m *statsServiceMock) Export(ctx context.Context, q dto.StatsQuery, format dto.ExportFormat) (*dto.ExportResult, error) {
	m.lastFormat = format
	if format != dto.ExportFormatCSV {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "format must be csv or pdf")
	}
	return &dto.ExportResult{Filename: "review-stats-20240301.csv", ContentType: "text/csv", Content: []byte("Class\nla1\n")}, nil
}

func newStatsRouter(svc *statsServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewStatsHandler(svc, 0)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.GET("/stats/review", h.Summary)
	r.GET("/stats/review/stream", h.Stream)
	r.GET("/stats/review/export", h.Export)
	return r
}

func TestStatsHandlerSummaryReportsCacheMeta(t *testing.T) {
	svc := &statsServiceMock{cacheHit: true}
	w := httptest.NewRecorder()
	newStatsRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/review?classId=la1&classId=la2&month=3&year=2024", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data dto.ClassroomStats     `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.ApprovedCount)
	assert.Equal(t, true, body.Meta["cache_hit"])
	assert.Contains(t, body.Meta, "processing_time_ms")
	assert.Equal(t, []string{"la1", "la2"}, svc.lastQuery.ClassIDs)
	assert.Equal(t, 3, svc.lastQuery.Month)
}

func TestStatsHandlerExport(t *testing.T) {
	svc := &statsServiceMock{}
	r := newStatsRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/review/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.ExportFormatCSV, svc.lastFormat)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "review-stats-20240301.csv")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/review/export?format=xlsx", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsHandlerStreamUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	newStatsRouter(&statsServiceMock{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/review/stream", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "STORE_UNAVAILABLE")
}

func TestStatsHandlerStreamWritesEventsUntilWatchEnds(t *testing.T) {
	stream := &statsStreamStub{updates: make(chan dto.ClassroomStats, 1)}
	stream.updates <- dto.ClassroomStats{ApprovedCount: 2, Total: 3, Uploaded: []string{"la1"}}
	close(stream.updates)
	svc := &statsServiceMock{stream: stream}

	w := newTestResponseRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		newStatsRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/review/stream?classId=la1", nil))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the watch closed")
	}

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	body := w.Body.String()
	assert.Contains(t, body, "event:stats")
	assert.Contains(t, body, `"approvedCount":2`)
	assert.Equal(t, 1, strings.Count(body, "event:stats"))
	assert.True(t, stream.closed)
	assert.Equal(t, []string{"la1"}, svc.lastQuery.ClassIDs)
}

// testResponseRecorder mirrors gin's test-only recorder: c.Stream requires a
// http.CloseNotifier, which httptest.ResponseRecorder does not implement.
type testResponseRecorder struct {
	*httptest.ResponseRecorder
	closeChannel chan bool
}

func (r *testResponseRecorder) CloseNotify() <-chan bool {
	return r.closeChannel
}

func newTestResponseRecorder() *testResponseRecorder {
	return &testResponseRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}
