package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/internal/repository"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
	"github.com/noah-isme/sma-review-api/pkg/export"
)

const statsCacheScope = "stats"

type statsDocumentLister interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
}

type statsClassLister interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, error)
}

type statsFeed interface {
	Subscribe(ctx context.Context, filter models.DocumentFilter) (*repository.Subscription, error)
}

type tabularRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// StatsService builds review dashboards from the document store.
type StatsService struct {
	docs     statsDocumentLister
	classes  statsClassLister
	feed     statsFeed
	cache    *CacheService
	metrics  *MetricsService
	csv      tabularRenderer
	pdf      tabularRenderer
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewStatsService constructs the dashboard service. feed may be nil when live updates are disabled.
func NewStatsService(docs statsDocumentLister, classes statsClassLister, feed statsFeed, cache *CacheService, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{
		docs:     docs,
		classes:  classes,
		feed:     feed,
		cache:    cache,
		metrics:  metrics,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Summary aggregates the documents matching q and reports whether the result came from cache.
// Cached results live until the next write invalidates them.
func (s *StatsService) Summary(ctx context.Context, q dto.StatsQuery) (*dto.ClassroomStats, bool, error) {
	q = normaliseStatsQuery(q)
	key := KeyFor(statsCacheScope, q)
	var cached dto.ClassroomStats
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	start := time.Now()
	units, err := s.units(ctx, q)
	if err != nil {
		return nil, false, err
	}
	docs, err := s.docs.List(ctx, statsFilter(q))
	if err != nil {
		return nil, false, appErrors.StoreFailure(err, "failed to load documents")
	}
	stats := Aggregate(units, docs)
	s.metrics.ObserveStatsBuild(time.Since(start))

	_ = s.cache.Set(ctx, key, stats, s.cacheTTL)
	return &stats, false, nil
}

// Watch opens a live summary. The first value reflects the current state and a new one follows
// every change affecting the query scope.
func (s *StatsService) Watch(ctx context.Context, q dto.StatsQuery) (StatsStream, error) {
	if s.feed == nil {
		return nil, appErrors.Clone(appErrors.ErrStoreUnavailable, "live updates are not available")
	}
	q = normaliseStatsQuery(q)
	units, err := s.units(ctx, q)
	if err != nil {
		return nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := s.feed.Subscribe(watchCtx, statsFilter(q))
	if err != nil {
		cancel()
		return nil, appErrors.StoreFailure(err, "failed to subscribe to document changes")
	}
	w := &StatsWatch{
		updates: make(chan dto.ClassroomStats, 1),
		cancel:  cancel,
		sub:     sub,
	}
	go w.run(units, s.metrics)
	return w, nil
}

// Export renders the summary table as CSV or PDF.
func (s *StatsService) Export(ctx context.Context, q dto.StatsQuery, format dto.ExportFormat) (*dto.ExportResult, error) {
	var (
		renderer    tabularRenderer
		contentType string
	)
	switch dto.ExportFormat(strings.ToLower(string(format))) {
	case dto.ExportFormatCSV, "":
		renderer, contentType, format = s.csv, "text/csv", dto.ExportFormatCSV
	case dto.ExportFormatPDF:
		renderer, contentType, format = s.pdf, "application/pdf", dto.ExportFormatPDF
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "format must be csv or pdf")
	}

	stats, _, err := s.Summary(ctx, q)
	if err != nil {
		return nil, err
	}
	content, err := renderer.Render(statsDataset(q, stats))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportResult{
		Filename:    fmt.Sprintf("review-stats-%s.%s", s.now().UTC().Format("20060102"), format),
		ContentType: contentType,
		Content:     content,
	}, nil
}

func (s *StatsService) units(ctx context.Context, q dto.StatsQuery) ([]string, error) {
	if len(q.ClassIDs) > 0 {
		return q.ClassIDs, nil
	}
	if s.classes == nil {
		return []string{}, nil
	}
	classes, err := s.classes.List(ctx, models.ClassFilter{})
	if err != nil {
		return nil, appErrors.StoreFailure(err, "failed to load classes")
	}
	units := make([]string, len(classes))
	for i, class := range classes {
		units[i] = class.ID
	}
	return units, nil
}

// StatsStream delivers live summaries until closed. Updates is closed when the stream ends.
type StatsStream interface {
	Updates() <-chan dto.ClassroomStats
	Close()
}

// StatsWatch is the feed-backed StatsStream.
type StatsWatch struct {
	updates chan dto.ClassroomStats
	cancel  context.CancelFunc
	sub     *repository.Subscription
	once    sync.Once
}

// Updates delivers summaries, latest wins. It is closed when the watch ends.
func (w *StatsWatch) Updates() <-chan dto.ClassroomStats {
	return w.updates
}

// Close ends the watch. Safe to call more than once.
func (w *StatsWatch) Close() {
	w.once.Do(func() {
		w.cancel()
		w.sub.Close()
	})
}

func (w *StatsWatch) run(units []string, metrics *MetricsService) {
	defer close(w.updates)
	defer w.Close()
	for set := range w.sub.Updates() {
		start := time.Now()
		stats := Aggregate(units, set.Documents)
		metrics.ObserveStatsBuild(time.Since(start))
		select {
		case <-w.updates:
		default:
		}
		w.updates <- stats
	}
}

func normaliseStatsQuery(q dto.StatsQuery) dto.StatsQuery {
	seen := make(map[string]struct{}, len(q.ClassIDs))
	ids := make([]string, 0, len(q.ClassIDs))
	for _, id := range q.ClassIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	q.ClassIDs = ids
	return q
}

func statsFilter(q dto.StatsQuery) models.DocumentFilter {
	return models.DocumentFilter{
		ClassIDs: q.ClassIDs,
		Kind:     q.Kind,
		PlanType: q.PlanType,
		Week:     q.Week,
		Month:    q.Month,
		Year:     q.Year,
	}
}

var statsHeaders = []string{"Class", "Approved", "Pending", "Needs revision", "Responded", "Total", "Uploaded"}

func statsDataset(q dto.StatsQuery, stats *dto.ClassroomStats) export.Dataset {
	rows := make([]map[string]string, 0, len(stats.Units))
	for _, unit := range stats.Units {
		uploaded := "no"
		if unit.Uploaded {
			uploaded = "yes"
		}
		rows = append(rows, map[string]string{
			"Class":          unit.ClassID,
			"Approved":       strconv.Itoa(unit.Approved),
			"Pending":        strconv.Itoa(unit.Pending),
			"Needs revision": strconv.Itoa(unit.Revision),
			"Responded":      strconv.Itoa(unit.Responded),
			"Total":          strconv.Itoa(unit.Total),
			"Uploaded":       uploaded,
		})
	}
	title := "Document review summary"
	if q.Kind != "" {
		title += " - " + string(q.Kind)
	}
	if q.PlanType != "" {
		title += " " + string(q.PlanType)
	}
	if q.Year != 0 && q.Month != 0 {
		title += " " + models.Period{Week: q.Week, Month: q.Month, Year: q.Year}.String()
	}
	return export.Dataset{
		Title:   title,
		Headers: statsHeaders,
		Rows:    rows,
		Summary: []export.SummaryLine{
			{Label: "Approved", Value: strconv.Itoa(stats.ApprovedCount)},
			{Label: "Pending", Value: strconv.Itoa(stats.PendingCount)},
			{Label: "Needs revision", Value: strconv.Itoa(stats.RevisionCount)},
			{Label: "Responded", Value: strconv.Itoa(stats.RespondedCount)},
			{Label: "Total", Value: strconv.Itoa(stats.Total)},
			{Label: "Missing", Value: strings.Join(stats.Missing, ", ")},
		},
	}
}
