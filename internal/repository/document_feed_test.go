package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-review-api/internal/models"
)

type fakeSource struct {
	ch       chan *pq.Notification
	listened []string
	closed   bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *pq.Notification, 8)}
}

func (s *fakeSource) Listen(channel string) error {
	s.listened = append(s.listened, channel)
	return nil
}

func (s *fakeSource) NotificationChannel() <-chan *pq.Notification { return s.ch }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeLister struct {
	mu    sync.Mutex
	docs  []models.Document
	calls int
	err   error
	// onList runs after each read, outside the lock
	onList func(call int)
}

func (l *fakeLister) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	l.mu.Lock()
	l.calls++
	call, hook := l.calls, l.onList
	l.mu.Unlock()
	if hook != nil {
		defer hook(call)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make([]models.Document, 0, len(l.docs))
	for _, doc := range l.docs {
		if len(filter.ClassIDs) > 0 && !containsString(filter.ClassIDs, doc.ClassID) {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (l *fakeLister) set(docs ...models.Document) {
	l.mu.Lock()
	l.docs = docs
	l.mu.Unlock()
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func notification(t *testing.T, change models.DocumentChange) *pq.Notification {
	payload, err := json.Marshal(change)
	require.NoError(t, err)
	return &pq.Notification{Channel: "review_document_changes", Extra: string(payload)}
}

func receive(t *testing.T, sub *Subscription) models.DocumentSet {
	t.Helper()
	select {
	case set, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return set
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	return models.DocumentSet{}
}

func TestDocumentFeedDeliversInitialSnapshotAndChanges(t *testing.T) {
	source := newFakeSource()
	lister := &fakeLister{}
	lister.set(models.Document{ID: "d1", ClassID: "la1"})
	feed := NewDocumentFeed(source, lister, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	sub, err := feed.Subscribe(ctx, models.DocumentFilter{ClassIDs: []string{"la1"}})
	require.NoError(t, err)
	defer sub.Close()

	initial := receive(t, sub)
	require.Len(t, initial.Documents, 1)

	lister.set(models.Document{ID: "d1", ClassID: "la1"}, models.Document{ID: "d2", ClassID: "la1"})
	source.ch <- notification(t, models.DocumentChange{Op: models.ChangeOpCreate, DocumentID: "d2", ClassID: "la1"})

	updated := receive(t, sub)
	assert.Len(t, updated.Documents, 2)
	assert.Equal(t, []string{"review_document_changes"}, source.listened)
}

func TestDocumentFeedRefreshesAfterChangeDuringSubscribe(t *testing.T) {
	lister := &fakeLister{}
	lister.set(models.Document{ID: "d1", ClassID: "la1"})
	feed := NewDocumentFeed(newFakeSource(), lister, "", nil)
	lister.onList = func(call int) {
		if call != 1 {
			return
		}
		// a write lands after the first read but before Subscribe returns
		lister.set(models.Document{ID: "d1", ClassID: "la1"}, models.Document{ID: "d2", ClassID: "la1"})
		feed.dispatch(notification(t, models.DocumentChange{Op: models.ChangeOpCreate, DocumentID: "d2", ClassID: "la1"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := feed.Subscribe(ctx, models.DocumentFilter{ClassIDs: []string{"la1"}})
	require.NoError(t, err)
	defer sub.Close()

	var latest models.DocumentSet
	require.Eventually(t, func() bool {
		select {
		case set, ok := <-sub.Updates():
			if ok {
				latest = set
			}
		default:
		}
		return len(latest.Documents) == 2
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, lister.callCount(), 2)
}

func TestDocumentFeedIgnoresUnrelatedChanges(t *testing.T) {
	source := newFakeSource()
	lister := &fakeLister{}
	feed := NewDocumentFeed(source, lister, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	sub, err := feed.Subscribe(ctx, models.DocumentFilter{ClassIDs: []string{"la1"}})
	require.NoError(t, err)
	receive(t, sub)

	source.ch <- notification(t, models.DocumentChange{ClassID: "la2"})
	// reconnect marker refreshes everyone
	source.ch <- nil

	receive(t, sub)
	assert.Equal(t, 2, lister.callCount())
}

func TestSubscriptionKeepsOnlyLatestSnapshot(t *testing.T) {
	lister := &fakeLister{}
	feed := NewDocumentFeed(newFakeSource(), lister, "", nil)
	sub, err := feed.Subscribe(context.Background(), models.DocumentFilter{})
	require.NoError(t, err)
	defer sub.Close()

	sub.deliver(models.DocumentSet{Documents: []models.Document{{ID: "stale"}}})
	sub.deliver(models.DocumentSet{Documents: []models.Document{{ID: "fresh"}}})

	set := receive(t, sub)
	require.Len(t, set.Documents, 1)
	assert.Equal(t, "fresh", set.Documents[0].ID)
}

func TestSubscriptionCloseAndContextCancel(t *testing.T) {
	lister := &fakeLister{}
	feed := NewDocumentFeed(newFakeSource(), lister, "", nil)
	var mu sync.Mutex
	var counts []int
	feed.SetSubscriptionObserver(func(active int) {
		mu.Lock()
		counts = append(counts, active)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, models.DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, feed.Active())

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on cancel")
	}
	assert.Equal(t, 0, feed.Active())
	sub.Close()

	mu.Lock()
	assert.Equal(t, []int{1, 0}, counts)
	mu.Unlock()
}

func TestDocumentFeedSubscribeErrors(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	source := newFakeSource()
	feed := NewDocumentFeed(source, lister, "", nil)

	_, err := feed.Subscribe(context.Background(), models.DocumentFilter{})
	require.Error(t, err)
	assert.Equal(t, 0, feed.Active())

	lister.err = nil
	require.NoError(t, feed.Close())
	assert.True(t, source.closed)
	_, err = feed.Subscribe(context.Background(), models.DocumentFilter{})
	assert.ErrorIs(t, err, ErrFeedClosed)
}
