package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
)

const (
	reviewResource      = "review_document"
	defaultReviewPage   = 20
	maxReviewPageSize   = 100
	defaultHistoryLimit = 50
)

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	Count(ctx context.Context, filter models.DocumentFilter) (int, error)
	UpdateApproval(ctx context.Context, doc *models.Document, request *models.Comment) error
	AppendComment(ctx context.Context, documentID string, comment *models.Comment) error
	UpdateComment(ctx context.Context, documentID string, comment *models.Comment) error
	RemoveComment(ctx context.Context, documentID, commentID string) error
	Delete(ctx context.Context, id string) error
}

type reviewClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type reviewerDirectory interface {
	ListByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error)
}

type reviewAuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

type reviewNotifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, actor models.Actor, subject NotificationSubject)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// ReviewService orchestrates the document review workflow: it loads a document, checks the
// actor's capability, applies a pure transition and persists it with a single store write.
// Notifications, audit entries and cache invalidation follow the write and never undo it.
type ReviewService struct {
	docs      documentStore
	classes   reviewClassReader
	reviewers reviewerDirectory
	policy    *ReviewPolicy
	sanitizer *CommentSanitizer
	audit     reviewAuditStore
	notifier  reviewNotifier
	cache     statsInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewReviewService wires the workflow with its collaborators.
func NewReviewService(
	docs documentStore,
	classes reviewClassReader,
	reviewers reviewerDirectory,
	policy *ReviewPolicy,
	sanitizer *CommentSanitizer,
	audit reviewAuditStore,
	notifier reviewNotifier,
	cache statsInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sanitizer == nil {
		sanitizer = NewCommentSanitizer(0)
	}
	return &ReviewService{
		docs:      docs,
		classes:   classes,
		reviewers: reviewers,
		policy:    policy,
		sanitizer: sanitizer,
		audit:     audit,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create registers an uploaded document in pending state.
func (s *ReviewService) Create(ctx context.Context, req dto.CreateDocumentRequest, actor models.Actor) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "invalid document payload")
	}
	now := s.now().UTC()
	doc := &models.Document{
		ID:           s.newID(),
		Kind:         req.Kind,
		ClassID:      strings.TrimSpace(req.ClassID),
		Title:        strings.TrimSpace(req.Title),
		FileRef:      strings.TrimSpace(req.FileRef),
		UploaderID:   actor.UserID,
		UploaderName: actor.Name,
		Approval:     models.ApprovalState{Status: models.ApprovalPending},
		Comments:     []models.Comment{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	period := models.Period{Week: req.Week, Month: req.Month, Year: req.Year}
	switch req.Kind {
	case models.DocumentKindPlan:
		doc.Plan = &models.PlanDetails{PlanType: req.PlanType, Period: period}
	case models.DocumentKindBoarding:
		doc.Boarding = &models.BoardingDetails{Period: period}
	case models.DocumentKindOffice:
		doc.Office = &models.OfficeDetails{SchoolYear: strings.TrimSpace(req.SchoolYear)}
	}
	if err := doc.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, err.Error())
	}
	if err := s.ensureClass(ctx, doc.ClassID); err != nil {
		return nil, err
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.metrics.RecordTransition("create", appErrors.ErrStoreUnavailable.Code)
		return nil, appErrors.StoreFailure(err, "failed to store document")
	}
	s.metrics.RecordTransition("create", "applied")
	s.afterWrite(ctx, models.NotificationUpload, actor, doc, fmt.Sprintf("%s uploaded %q", actor.Name, doc.Title))
	s.emitAudit(ctx, actor, models.AuditActionDocumentCreate, doc.ID, nil, doc)
	return doc, nil
}

// Get returns a single document.
func (s *ReviewService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.load(ctx, id)
}

// List returns a page of documents and its pagination metadata.
func (s *ReviewService) List(ctx context.Context, query dto.DocumentQuery) ([]models.Document, *models.Pagination, error) {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = defaultReviewPage
	}
	if query.PageSize > maxReviewPageSize {
		query.PageSize = maxReviewPageSize
	}
	filter := models.DocumentFilter{
		ClassIDs: query.ClassIDs,
		Kind:     query.Kind,
		PlanType: query.PlanType,
		Week:     query.Week,
		Month:    query.Month,
		Year:     query.Year,
		Status:   query.Status,
		Limit:    query.PageSize,
		Offset:   (query.Page - 1) * query.PageSize,
	}
	docs, err := s.docs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.StoreFailure(err, "failed to list documents")
	}
	total, err := s.docs.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.StoreFailure(err, "failed to count documents")
	}
	return docs, &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: total}, nil
}

// ReviewerPool describes the roles and users allowed to review a document.
func (s *ReviewService) ReviewerPool(ctx context.Context, id string) (*dto.ReviewerPoolResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	pool, err := s.policy.ReviewerPool(ctx, doc)
	if err != nil {
		return nil, appErrors.StoreFailure(err, "failed to resolve reviewers")
	}
	resp := &dto.ReviewerPoolResponse{
		DocumentID: doc.ID,
		Roles:      pool.Roles,
		HomeScope:  pool.Escalated,
		Reviewers:  []dto.ReviewerSummary{},
	}
	if s.reviewers == nil {
		return resp, nil
	}
	users, err := s.reviewers.ListByRoles(ctx, pool.Roles)
	if err != nil {
		return nil, appErrors.StoreFailure(err, "failed to list reviewers")
	}
	for _, user := range users {
		resp.Reviewers = append(resp.Reviewers, dto.ReviewerSummary{ID: user.ID, FullName: user.FullName, Role: user.Role})
	}
	return resp, nil
}

// Approve marks the document approved. Approving an approved document changes nothing.
func (s *ReviewService) Approve(ctx context.Context, id string, actor models.Actor) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireReviewer(ctx, actor, doc, "approve"); err != nil {
		return nil, err
	}
	before := doc.Approval
	if !Approve(doc, actor, s.now()) {
		s.metrics.RecordTransition("approve", "noop")
		return doc, nil
	}
	if err := s.docs.UpdateApproval(ctx, doc, nil); err != nil {
		return nil, s.writeFailure("approve", err, "failed to store approval")
	}
	s.metrics.RecordTransition("approve", "applied")
	s.afterWrite(ctx, models.NotificationApprove, actor, doc, fmt.Sprintf("%s approved %q", actor.Name, doc.Title))
	s.emitAudit(ctx, actor, models.AuditActionApprove, doc.ID, before, doc.Approval)
	return doc, nil
}

// RequestRevision sends the document back to its uploader with a reason.
func (s *ReviewService) RequestRevision(ctx context.Context, id string, req dto.RequestRevisionRequest, actor models.Actor) (*models.Document, error) {
	if strings.TrimSpace(req.Reason) == "" {
		s.metrics.RecordTransition("request_revision", appErrors.ErrInvalidArgument.Code)
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "revision reason is required")
	}
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireReviewer(ctx, actor, doc, "request_revision"); err != nil {
		return nil, err
	}
	reason, err := s.sanitizer.Clean(req.Reason)
	if err != nil {
		return nil, err
	}
	before := doc.Approval
	request, err := RequestRevision(doc, actor, reason, s.now(), s.newID)
	if err != nil {
		s.recordRejection("request_revision", err)
		return nil, err
	}
	if err := s.docs.UpdateApproval(ctx, doc, request); err != nil {
		return nil, s.writeFailure("request_revision", err, "failed to store revision request")
	}
	s.metrics.RecordTransition("request_revision", "applied")
	s.afterWrite(ctx, models.NotificationRequestRevision, actor, doc, fmt.Sprintf("%s requested a revision of %q: %s", actor.Name, doc.Title, reason))
	s.emitAudit(ctx, actor, models.AuditActionRequestRevision, doc.ID, before, doc.Approval)
	return doc, nil
}

// Delete removes a document and its thread. Only the uploader or a manager may delete.
func (s *ReviewService) Delete(ctx context.Context, id string, actor models.Actor) error {
	doc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !s.policy.CanDeleteDocument(actor, doc) {
		s.metrics.RecordTransition("delete", appErrors.ErrPermissionDenied.Code)
		return appErrors.Clone(appErrors.ErrPermissionDenied, "only the uploader or a manager may delete this document")
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return s.writeFailure("delete", err, "failed to delete document")
	}
	s.metrics.RecordTransition("delete", "applied")
	s.afterWrite(ctx, models.NotificationDelete, actor, doc, fmt.Sprintf("%s deleted %q", actor.Name, doc.Title))
	s.emitAudit(ctx, actor, models.AuditActionDocumentDelete, doc.ID, doc, nil)
	return nil
}

// PostComment appends an entry to the document thread. Revision requests require the reviewer
// capability; plain comments and responses are open to any authenticated actor.
func (s *ReviewService) PostComment(ctx context.Context, id string, req dto.PostCommentRequest, actor models.Actor) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "invalid comment payload")
	}
	content, err := s.sanitizer.Clean(req.Content)
	if err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Type == models.CommentTypeRequest {
		if err := s.requireReviewer(ctx, actor, doc, "comment_post"); err != nil {
			return nil, err
		}
	}
	comment, err := PostComment(doc, actor, content, req.Type, s.now(), s.newID())
	if err != nil {
		return nil, err
	}
	if err := s.docs.AppendComment(ctx, doc.ID, comment); err != nil {
		return nil, s.writeFailure("comment_post", err, "failed to store comment")
	}
	s.metrics.RecordTransition("comment_post", "applied")
	s.afterWrite(ctx, models.NotificationComment, actor, doc, fmt.Sprintf("%s commented on %q", actor.Name, doc.Title))
	s.emitAudit(ctx, actor, models.AuditActionCommentPost, doc.ID, nil, comment)
	return comment, nil
}

// EditComment replaces the content of a comment. Only its author or a manager may edit it.
func (s *ReviewService) EditComment(ctx context.Context, id, commentID string, req dto.EditCommentRequest, actor models.Actor) (*models.Comment, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	var before models.Comment
	if idx := doc.CommentIndex(commentID); idx >= 0 {
		before = doc.Comments[idx]
	}
	edited, err := EditComment(doc, commentID, s.sanitizer.Strip(req.Content), actor, s.policy.CanManageComment, s.now())
	if err != nil {
		s.recordRejection("comment_edit", err)
		return nil, err
	}
	if err := s.sanitizer.CheckLength(edited.Content); err != nil {
		return nil, err
	}
	if err := s.docs.UpdateComment(ctx, doc.ID, edited); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return nil, s.writeFailure("comment_edit", err, "failed to store comment")
	}
	s.metrics.RecordTransition("comment_edit", "applied")
	s.emitAudit(ctx, actor, models.AuditActionCommentEdit, doc.ID, before, edited)
	return edited, nil
}

// DeleteComment removes a comment from the thread. Only its author or a manager may delete it.
func (s *ReviewService) DeleteComment(ctx context.Context, id, commentID string, actor models.Actor) error {
	doc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	removed, err := DeleteComment(doc, commentID, actor, s.policy.CanManageComment)
	if err != nil {
		s.recordRejection("comment_delete", err)
		return err
	}
	if err := s.docs.RemoveComment(ctx, doc.ID, commentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "comment not found")
		}
		return s.writeFailure("comment_delete", err, "failed to delete comment")
	}
	s.metrics.RecordTransition("comment_delete", "applied")
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionCommentDelete, doc.ID, removed, nil)
	return nil
}

// History returns the audit trail recorded for a document, newest first.
func (s *ReviewService) History(ctx context.Context, id string, limit int) ([]models.AuditLog, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []models.AuditLog{}, nil
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	logs, err := s.audit.ListByResource(ctx, reviewResource, id, limit)
	if err != nil {
		return nil, appErrors.StoreFailure(err, "failed to load document history")
	}
	return logs, nil
}

func (s *ReviewService) load(ctx context.Context, id string) (*models.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "document id is required")
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.StoreFailure(err, "failed to load document")
	}
	return doc, nil
}

func (s *ReviewService) ensureClass(ctx context.Context, classID string) error {
	if s.classes == nil {
		return nil
	}
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidArgument, "unknown class")
		}
		return appErrors.StoreFailure(err, "failed to load class")
	}
	return nil
}

func (s *ReviewService) requireReviewer(ctx context.Context, actor models.Actor, doc *models.Document, operation string) error {
	ok, err := s.policy.CanApprove(ctx, actor, doc)
	if err != nil {
		return appErrors.StoreFailure(err, "failed to resolve reviewers")
	}
	if !ok {
		s.metrics.RecordTransition(operation, appErrors.ErrPermissionDenied.Code)
		return appErrors.Clone(appErrors.ErrPermissionDenied, "actor is not a reviewer for this document")
	}
	return nil
}

func (s *ReviewService) recordRejection(operation string, err error) {
	s.metrics.RecordTransition(operation, appErrors.FromError(err).Code)
}

// writeFailure maps a store write error. A document removed between load and write reads as not found.
func (s *ReviewService) writeFailure(operation string, err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.RecordTransition(operation, appErrors.ErrNotFound.Code)
		return appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	s.metrics.RecordTransition(operation, appErrors.ErrStoreUnavailable.Code)
	s.logger.Error("review write failed", zap.String("operation", operation), zap.Error(err))
	return appErrors.StoreFailure(err, message)
}

func (s *ReviewService) afterWrite(ctx context.Context, kind models.NotificationKind, actor models.Actor, doc *models.Document, summary string) {
	s.invalidateStats(ctx)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, kind, actor, NotificationSubject{DocumentID: doc.ID, ClassID: doc.ClassID, Summary: summary})
}

func (s *ReviewService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, statsCachePattern()); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func (s *ReviewService) emitAudit(ctx context.Context, actor models.Actor, action, documentID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	var oldValues, newValues []byte
	if oldValue != nil {
		oldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		newValues, _ = json.Marshal(newValue)
	}
	userID := actor.UserID
	resourceID := documentID
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   reviewResource,
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "review-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func statsCachePattern() string {
	return cache.Key(statsCacheScope) + ":*"
}
