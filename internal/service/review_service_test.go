package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/models"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
)

type memoryDocumentStore struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	order    []string
	writes   int
	writeErr error
	readErr  error
}

func newMemoryDocumentStore(docs ...*models.Document) *memoryDocumentStore {
	store := &memoryDocumentStore{docs: map[string]*models.Document{}}
	for _, doc := range docs {
		store.put(doc)
	}
	return store
}

func (m *memoryDocumentStore) put(doc *models.Document) {
	if _, ok := m.docs[doc.ID]; !ok {
		m.order = append(m.order, doc.ID)
	}
	m.docs[doc.ID] = doc.Clone()
}

func (m *memoryDocumentStore) snapshot(id string) *models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].Clone()
}

func (m *memoryDocumentStore) write() error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	return nil
}

func (m *memoryDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write(); err != nil {
		return err
	}
	m.put(doc)
	return nil
}

func (m *memoryDocumentStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	doc, ok := m.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return doc.Clone(), nil
}

func (m *memoryDocumentStore) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := []models.Document{}
	for _, id := range m.order {
		doc, ok := m.docs[id]
		if !ok || !documentMatches(filter, doc) {
			continue
		}
		out = append(out, *doc.Clone())
	}
	if filter.Limit > 0 {
		if filter.Offset >= len(out) {
			return []models.Document{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[filter.Offset:end]
	}
	return out, nil
}

func (m *memoryDocumentStore) Count(ctx context.Context, filter models.DocumentFilter) (int, error) {
	filter.Limit, filter.Offset = 0, 0
	docs, err := m.List(ctx, filter)
	return len(docs), err
}

func (m *memoryDocumentStore) UpdateApproval(ctx context.Context, doc *models.Document, request *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[doc.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if err := m.write(); err != nil {
		return err
	}
	stored.Approval = doc.Clone().Approval
	if request != nil {
		stored.Comments = append(stored.Comments, *request)
	}
	return nil
}

func (m *memoryDocumentStore) AppendComment(ctx context.Context, documentID string, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	if err := m.write(); err != nil {
		return err
	}
	stored.Comments = append(stored.Comments, *comment)
	return nil
}

func (m *memoryDocumentStore) UpdateComment(ctx context.Context, documentID string, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	idx := stored.CommentIndex(comment.ID)
	if idx < 0 {
		return sql.ErrNoRows
	}
	if err := m.write(); err != nil {
		return err
	}
	stored.Comments[idx] = *comment
	return nil
}

func (m *memoryDocumentStore) RemoveComment(ctx context.Context, documentID, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	idx := stored.CommentIndex(commentID)
	if idx < 0 {
		return sql.ErrNoRows
	}
	if err := m.write(); err != nil {
		return err
	}
	stored.Comments = append(stored.Comments[:idx:idx], stored.Comments[idx+1:]...)
	return nil
}

func (m *memoryDocumentStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return sql.ErrNoRows
	}
	if err := m.write(); err != nil {
		return err
	}
	delete(m.docs, id)
	return nil
}

func documentMatches(filter models.DocumentFilter, doc *models.Document) bool {
	change := models.DocumentChange{ClassID: doc.ClassID, Kind: doc.Kind, PlanType: doc.PlanType()}
	if period, ok := doc.Period(); ok {
		change.Week, change.Month, change.Year = period.Week, period.Month, period.Year
	}
	if !filter.MatchesChange(change) {
		return false
	}
	if len(filter.Status) == 0 {
		return true
	}
	for _, status := range filter.Status {
		if doc.Approval.Status.Normalize() == status {
			return true
		}
	}
	return false
}

type classReaderStub struct {
	classes map[string]models.Class
	err     error
}

func (s *classReaderStub) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if s.err != nil {
		return nil, s.err
	}
	class, ok := s.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &class, nil
}

func (s *classReaderStub) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Class, 0, len(s.classes))
	for _, class := range s.classes {
		out = append(out, class)
	}
	return out, nil
}

type reviewerDirectoryStub struct {
	users []models.User
}

func (s *reviewerDirectoryStub) ListByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error) {
	out := []models.User{}
	for _, user := range s.users {
		for _, role := range roles {
			if user.Role == role {
				out = append(out, user)
			}
		}
	}
	return out, nil
}

type auditStoreStub struct {
	logs []models.AuditLog
	err  error
}

func (s *auditStoreStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, *log)
	return nil
}

func (s *auditStoreStub) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	out := []models.AuditLog{}
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		log := s.logs[i]
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, log)
		}
	}
	return out, nil
}

type notifierStub struct {
	events []models.NotificationKind
}

func (n *notifierStub) Notify(ctx context.Context, kind models.NotificationKind, actor models.Actor, subject NotificationSubject) {
	n.events = append(n.events, kind)
}

type invalidatorStub struct {
	patterns []string
}

func (i *invalidatorStub) Invalidate(ctx context.Context, pattern string) error {
	i.patterns = append(i.patterns, pattern)
	return nil
}

type reviewFixture struct {
	svc      *ReviewService
	stats    *StatsService
	store    *memoryDocumentStore
	classes  *classReaderStub
	audit    *auditStoreStub
	notifier *notifierStub
	cache    *invalidatorStub
	metrics  *MetricsService
}

func newReviewFixture(t *testing.T, homeClasses ...string) *reviewFixture {
	t.Helper()
	homes := &stubHomeScope{homes: map[string]bool{}}
	for _, id := range homeClasses {
		homes.homes[id] = true
	}
	f := &reviewFixture{
		store: newMemoryDocumentStore(),
		classes: &classReaderStub{classes: map[string]models.Class{
			"la1": {ID: "la1", Name: "LA 1"},
			"la2": {ID: "la2", Name: "LA 2"},
		}},
		audit:    &auditStoreStub{},
		notifier: &notifierStub{},
		cache:    &invalidatorStub{},
		metrics:  NewMetricsService(),
	}
	directory := &reviewerDirectoryStub{users: []models.User{
		{ID: "ht-1", FullName: "Head Teacher", Role: models.RoleHeadTeacher},
		{ID: "vp-1", FullName: "Vice Principal", Role: models.RoleVicePrincipal},
	}}
	policy := NewReviewPolicy(homes, []string{"ADMIN", "SUPERADMIN"})
	f.svc = NewReviewService(f.store, f.classes, directory, policy, NewCommentSanitizer(200), f.audit, f.notifier, f.cache, f.metrics, nil, nil)
	f.svc.now = func() time.Time { return reviewClock }
	seq := 0
	f.svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	f.stats = NewStatsService(f.store, f.classes, nil, nil, f.metrics, 0, nil)
	return f
}

func (f *reviewFixture) upload(t *testing.T, classID string, planType models.PlanType) *models.Document {
	t.Helper()
	req := dto.CreateDocumentRequest{
		Kind:     models.DocumentKindPlan,
		ClassID:  classID,
		Title:    "Plan " + classID,
		FileRef:  "files/" + classID + ".pdf",
		PlanType: planType,
		Month:    3,
		Year:     2024,
	}
	if planType == models.PlanTypeWeek {
		req.Week = 2
	}
	doc, err := f.svc.Create(context.Background(), req, classTeacher)
	require.NoError(t, err)
	return doc
}

func TestReviewServiceWeekRevisionResponseCountsAsResponded(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "la1", models.PlanTypeWeek)

	revised, err := f.svc.RequestRevision(ctx, doc.ID, dto.RequestRevisionRequest{Reason: "missing objectives"}, headTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalNeedsRevision, revised.Approval.Status)

	stats, _, err := f.stats.Summary(ctx, dto.StatsQuery{ClassIDs: []string{"la1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RevisionCount)
	assert.Equal(t, 0, stats.RespondedCount)

	_, err = f.svc.PostComment(ctx, doc.ID, dto.PostCommentRequest{Type: models.CommentTypeResponse, Content: "objectives added"}, classTeacher)
	require.NoError(t, err)

	stored := f.store.snapshot(doc.ID)
	require.Len(t, stored.Comments, 2)
	assert.Equal(t, models.CommentTypeRequest, stored.Comments[0].Type)
	assert.Equal(t, "missing objectives", stored.Comments[0].Content)
	assert.Equal(t, models.CommentTypeResponse, stored.Comments[1].Type)

	stats, _, err = f.stats.Summary(ctx, dto.StatsQuery{ClassIDs: []string{"la1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RespondedCount)
	assert.Equal(t, []models.NotificationKind{models.NotificationUpload, models.NotificationRequestRevision, models.NotificationComment}, f.notifier.events)
}

func TestReviewServiceMonthPlanRequiresVicePrincipal(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "la1", models.PlanTypeMonth)
	writes := f.store.writes

	_, err := f.svc.Approve(ctx, doc.ID, headTeacher)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPermissionDenied))
	assert.Equal(t, writes, f.store.writes)
	assert.Equal(t, models.ApprovalPending, f.store.snapshot(doc.ID).Approval.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.reviewTransitions.WithLabelValues("approve", "PERMISSION_DENIED")))

	approved, err := f.svc.Approve(ctx, doc.ID, vicePrincipal)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, approved.Approval.Status)
	assert.Equal(t, "vp-1", f.store.snapshot(doc.ID).Approval.ReviewerID)
}

func TestReviewServiceHomeClassEscalatesToVicePrincipal(t *testing.T) {
	f := newReviewFixture(t, "la2")
	ctx := context.Background()
	doc := f.upload(t, "la2", models.PlanTypeWeek)

	pool, err := f.svc.ReviewerPool(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.UserRole{models.RoleVicePrincipal}, pool.Roles)
	assert.True(t, pool.HomeScope)
	require.Len(t, pool.Reviewers, 1)
	assert.Equal(t, "vp-1", pool.Reviewers[0].ID)

	_, err = f.svc.Approve(ctx, doc.ID, headTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrPermissionDenied))

	_, err = f.svc.Approve(ctx, doc.ID, vicePrincipal)
	require.NoError(t, err)
}

func TestReviewServiceApproveTwiceWritesOnce(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "la1", models.PlanTypeWeek)

	first, err := f.svc.Approve(ctx, doc.ID, headTeacher)
	require.NoError(t, err)
	writes, events := f.store.writes, len(f.notifier.events)

	second, err := f.svc.Approve(ctx, doc.ID, headTeacher)
	require.NoError(t, err)
	assert.Equal(t, first.Approval, second.Approval)
	assert.Equal(t, writes, f.store.writes)
	assert.Len(t, f.notifier.events, events)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.reviewTransitions.WithLabelValues("approve", "noop")))
}

func TestReviewServiceEmptyReasonLeavesDocumentUntouched(t *testing.T) {
	f := newReviewFixture(t)
	doc := f.upload(t, "la1", models.PlanTypeWeek)
	before := f.store.snapshot(doc.ID)

	for _, reason := range []string{"", "   ", "<p> </p>"} {
		_, err := f.svc.RequestRevision(context.Background(), doc.ID, dto.RequestRevisionRequest{Reason: reason}, headTeacher)
		require.Error(t, err, "reason %q", reason)
		assert.True(t, errors.Is(err, appErrors.ErrInvalidArgument))
	}
	assert.Equal(t, before, f.store.snapshot(doc.ID))
}

func TestReviewServiceRevisionAfterApprovalRejected(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "la1", models.PlanTypeWeek)
	_, err := f.svc.Approve(ctx, doc.ID, headTeacher)
	require.NoError(t, err)

	_, err = f.svc.RequestRevision(ctx, doc.ID, dto.RequestRevisionRequest{Reason: "too late"}, headTeacher)

	assert.True(t, errors.Is(err, appErrors.ErrInvalidArgument))
	assert.Equal(t, models.ApprovalApproved, f.store.snapshot(doc.ID).Approval.Status)
}

func TestReviewServiceStoreFailureSkipsNotification(t *testing.T) {
	f := newReviewFixture(t)
	doc := f.upload(t, "la1", models.PlanTypeWeek)
	events := len(f.notifier.events)
	f.store.writeErr = errors.New("connection reset")

	_, err := f.svc.Approve(context.Background(), doc.ID, headTeacher)

	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))
	assert.Len(t, f.notifier.events, events)
}

func TestReviewServiceGetMapsErrors(t *testing.T) {
	f := newReviewFixture(t)

	_, err := f.svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	f.store.readErr = errors.New("timeout")
	_, err = f.svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))
}

func TestReviewServiceCreateValidation(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, dto.CreateDocumentRequest{Kind: models.DocumentKindPlan, ClassID: "la1", Title: "t", FileRef: "f", Month: 3, Year: 2024}, classTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidArgument), "plan without cadence")

	_, err = f.svc.Create(ctx, dto.CreateDocumentRequest{Kind: models.DocumentKindPlan, ClassID: "la1", Title: "t", FileRef: "f", PlanType: models.PlanTypeWeek, Month: 3, Year: 2024}, classTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidArgument), "week plan without week")

	_, err = f.svc.Create(ctx, dto.CreateDocumentRequest{Kind: models.DocumentKindOffice, ClassID: "zz9", Title: "t", FileRef: "f", SchoolYear: "2024-2025"}, classTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidArgument), "unknown class")

	doc, err := f.svc.Create(ctx, dto.CreateDocumentRequest{Kind: models.DocumentKindBoarding, ClassID: "la1", Title: "Menu", FileRef: "f", Month: 4, Year: 2024}, classTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, doc.Approval.Status)
	assert.Equal(t, "teacher-1", doc.UploaderID)
	require.NotNil(t, doc.Boarding)
	assert.Equal(t, []string{"review:stats:*"}, f.cache.patterns)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionDocumentCreate, f.audit.logs[0].Action)
}

func TestReviewServiceCommentPermissions(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "la1", models.PlanTypeWeek)

	_, err := f.svc.PostComment(ctx, doc.ID, dto.PostCommentRequest{Type: models.CommentTypeRequest, Content: "redo"}, classTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrPermissionDenied), "requests need reviewer capability")

	_, err = f.svc.PostComment(ctx, doc.ID, dto.PostCommentRequest{Type: models.CommentTypeComment, Content: "<i> </i>"}, classTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidArgument))

	comment, err := f.svc.PostComment(ctx, doc.ID, dto.PostCommentRequest{Type: models.CommentTypeComment, Content: "<b>uploaded</b> v2"}, classTeacher)
	require.NoError(t, err)
	assert.Equal(t, "uploaded v2", comment.Content)
	before := f.store.snapshot(doc.ID)

	_, err = f.svc.EditComment(ctx, doc.ID, comment.ID, dto.EditCommentRequest{Content: "hijack"}, headTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrPermissionDenied))
	err = f.svc.DeleteComment(ctx, doc.ID, comment.ID, vicePrincipal)
	assert.True(t, errors.Is(err, appErrors.ErrPermissionDenied))
	assert.Equal(t, before, f.store.snapshot(doc.ID))

	edited, err := f.svc.EditComment(ctx, doc.ID, comment.ID, dto.EditCommentRequest{Content: "uploaded v3"}, classTeacher)
	require.NoError(t, err)
	assert.Equal(t, comment.ID, edited.ID)
	assert.Equal(t, "uploaded v3", f.store.snapshot(doc.ID).Comments[0].Content)

	_, err = f.svc.EditComment(ctx, doc.ID, "nope", dto.EditCommentRequest{Content: "x"}, classTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, f.svc.DeleteComment(ctx, doc.ID, comment.ID, schoolAdmin))
	assert.Empty(t, f.store.snapshot(doc.ID).Comments)
}

func TestReviewServiceDeleteDocument(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "la1", models.PlanTypeWeek)

	err := f.svc.Delete(ctx, doc.ID, headTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrPermissionDenied))

	require.NoError(t, f.svc.Delete(ctx, doc.ID, classTeacher))
	_, err = f.svc.Get(ctx, doc.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestReviewServiceListAndHistory(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	first := f.upload(t, "la1", models.PlanTypeWeek)
	f.upload(t, "la2", models.PlanTypeWeek)
	_, err := f.svc.Approve(ctx, first.ID, headTeacher)
	require.NoError(t, err)

	docs, page, err := f.svc.List(ctx, dto.DocumentQuery{Status: []models.ApprovalStatus{models.ApprovalPending}, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "la2", docs[0].ClassID)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 1, page.Page)

	history, err := f.svc.History(ctx, first.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.AuditActionApprove, history[0].Action)
}
