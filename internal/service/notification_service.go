package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/pkg/jobs"
)

const notificationJobType = "review_notification"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

type notificationQueue interface {
	TryEnqueue(job jobs.Job) error
}

// NotificationSubject identifies the document a notification talks about.
type NotificationSubject struct {
	DocumentID string
	ClassID    string
	Summary    string
}

// NotificationService fans review events out to the notification table through a worker queue.
// Notify never fails and never blocks; a full or stopped queue drops the event.
type NotificationService struct {
	store   notificationStore
	queue   notificationQueue
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotificationService constructs the dispatcher. AttachQueue must be called before events are accepted.
func NewNotificationService(store notificationStore, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// AttachQueue wires the queue whose handler is Handle.
func (s *NotificationService) AttachQueue(queue notificationQueue) {
	s.queue = queue
}

// Notify enqueues an event for asynchronous persistence.
func (s *NotificationService) Notify(ctx context.Context, kind models.NotificationKind, actor models.Actor, subject NotificationSubject) {
	if s == nil {
		return
	}
	if s.queue == nil {
		s.metrics.RecordNotification(string(kind), "dropped")
		return
	}
	n := models.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		SubjectID: subject.DocumentID,
		ClassID:   subject.ClassID,
		Summary:   subject.Summary,
		CreatedAt: s.now().UTC(),
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: n.ID, Type: notificationJobType, Payload: n}); err != nil {
		s.metrics.RecordNotification(string(kind), "dropped")
		s.logger.Warn("notification dropped", zap.String("kind", string(kind)), zap.String("document_id", subject.DocumentID), zap.Error(err))
		return
	}
	s.metrics.RecordNotification(string(kind), "queued")
}

// Handle persists a queued notification. Errors make the queue retry.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if err := s.store.Create(ctx, &n); err != nil {
		s.metrics.RecordNotification(string(n.Kind), "failed")
		return fmt.Errorf("store notification %s: %w", n.ID, err)
	}
	s.metrics.RecordNotification(string(n.Kind), "stored")
	return nil
}
