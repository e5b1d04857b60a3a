package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/pkg/jobs"
)

type notificationStoreStub struct {
	created []models.Notification
	err     error
}

func (s *notificationStoreStub) Create(ctx context.Context, n *models.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, *n)
	return nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) TryEnqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func TestNotificationServiceNotifyQueuesEvent(t *testing.T) {
	metrics := NewMetricsService()
	store := &notificationStoreStub{}
	queue := &queueStub{}
	svc := NewNotificationService(store, metrics, nil)
	svc.AttachQueue(queue)

	svc.Notify(context.Background(), models.NotificationApprove, headTeacher, NotificationSubject{DocumentID: "doc-1", ClassID: "la1", Summary: "approved"})

	require.Len(t, queue.jobs, 1)
	n, ok := queue.jobs[0].Payload.(models.Notification)
	require.True(t, ok)
	assert.Equal(t, "doc-1", n.SubjectID)
	assert.Equal(t, "ht-1", n.ActorID)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.notifications.WithLabelValues("approve", "queued")))

	require.NoError(t, svc.Handle(context.Background(), queue.jobs[0]))
	require.Len(t, store.created, 1)
	assert.Equal(t, models.NotificationApprove, store.created[0].Kind)
}

func TestNotificationServiceDropsWhenQueueFull(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewNotificationService(&notificationStoreStub{}, metrics, nil)
	svc.AttachQueue(&queueStub{err: jobs.ErrQueueFull})

	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), models.NotificationComment, classTeacher, NotificationSubject{DocumentID: "doc-1"})
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.notifications.WithLabelValues("comment", "dropped")))

	var nilSvc *NotificationService
	assert.NotPanics(t, func() {
		nilSvc.Notify(context.Background(), models.NotificationComment, classTeacher, NotificationSubject{})
	})
}

func TestNotificationServiceHandleFailureRetries(t *testing.T) {
	svc := NewNotificationService(&notificationStoreStub{err: errors.New("db down")}, nil, nil)

	err := svc.Handle(context.Background(), jobs.Job{ID: "n-1", Payload: models.Notification{ID: "n-1", Kind: models.NotificationUpload}})
	assert.Error(t, err)

	assert.NoError(t, svc.Handle(context.Background(), jobs.Job{ID: "n-2", Payload: "garbage"}))
}
