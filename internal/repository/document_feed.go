package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-review-api/internal/models"
)

// ErrFeedClosed is returned when subscribing to a feed that has been shut down.
var ErrFeedClosed = errors.New("document feed closed")

// notificationSource is satisfied by *pq.Listener.
type notificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

type documentLister interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
}

// DocumentFeed turns store change events into per-subscription snapshots. Each subscription
// refreshes on its own goroutine so a slow subscriber never delays the others.
type DocumentFeed struct {
	source   notificationSource
	docs     documentLister
	channel  string
	logger   *zap.Logger
	observer func(active int)

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewDocumentFeed wires a feed over a LISTEN source and the document store.
func NewDocumentFeed(source notificationSource, docs documentLister, channel string, logger *zap.Logger) *DocumentFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "review_document_changes"
	}
	return &DocumentFeed{
		source:  source,
		docs:    docs,
		channel: channel,
		logger:  logger,
		subs:    make(map[uint64]*Subscription),
	}
}

// SetSubscriptionObserver registers a callback receiving the active subscription count.
func (f *DocumentFeed) SetSubscriptionObserver(fn func(active int)) {
	f.mu.Lock()
	f.observer = fn
	f.mu.Unlock()
}

// Run listens for change events until ctx is cancelled or the source closes.
func (f *DocumentFeed) Run(ctx context.Context) error {
	if err := f.source.Listen(f.channel); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}
	f.logger.Info("document feed listening", zap.String("channel", f.channel))
	notifications := f.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return errors.New("document feed source closed")
			}
			f.dispatch(n)
		}
	}
}

func (f *DocumentFeed) dispatch(n *pq.Notification) {
	// a nil notification follows a reconnect, events may have been missed
	if n == nil {
		f.markAll(nil)
		return
	}
	var change models.DocumentChange
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		f.logger.Warn("undecodable change event, refreshing all subscriptions", zap.Error(err))
		f.markAll(nil)
		return
	}
	f.markAll(&change)
}

func (f *DocumentFeed) markAll(change *models.DocumentChange) {
	f.mu.Lock()
	targets := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		if change == nil || sub.filter.MatchesChange(*change) {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()
	for _, sub := range targets {
		sub.markDirty()
	}
}

// Subscribe registers a subscription for filter and delivers the current snapshot before
// returning. The subscription ends when ctx is cancelled or Close is called.
func (f *DocumentFeed) Subscribe(ctx context.Context, filter models.DocumentFilter) (*Subscription, error) {
	// paging would make snapshots unstable across refreshes
	filter.Limit, filter.Offset = 0, 0

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	f.nextID++
	sub := &Subscription{
		id:      f.nextID,
		filter:  filter,
		feed:    f,
		updates: make(chan models.DocumentSet, 1),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// registered before the first read so a change committed meanwhile marks it dirty
	f.subs[sub.id] = sub
	f.mu.Unlock()

	initial, err := f.snapshot(ctx, filter)
	if err != nil {
		f.mu.Lock()
		delete(f.subs, sub.id)
		f.mu.Unlock()
		return nil, err
	}

	f.mu.Lock()
	active, observer := len(f.subs), f.observer
	f.mu.Unlock()
	if observer != nil {
		observer(active)
	}

	sub.deliver(initial)
	go sub.loop(ctx)
	return sub, nil
}

// Close stops every subscription and the underlying source.
func (f *DocumentFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return f.source.Close()
}

// Active reports the number of open subscriptions.
func (f *DocumentFeed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *DocumentFeed) remove(id uint64) {
	f.mu.Lock()
	delete(f.subs, id)
	active, observer := len(f.subs), f.observer
	f.mu.Unlock()
	if observer != nil {
		observer(active)
	}
}

func (f *DocumentFeed) snapshot(ctx context.Context, filter models.DocumentFilter) (models.DocumentSet, error) {
	docs, err := f.docs.List(ctx, filter)
	if err != nil {
		return models.DocumentSet{}, err
	}
	return models.DocumentSet{Filter: filter, Documents: docs, ObservedAt: time.Now().UTC()}, nil
}

// Subscription is a handle on a filtered, continuously refreshed document set. Updates holds at
// most one pending snapshot; an undelivered snapshot is replaced by the newer one.
type Subscription struct {
	id     uint64
	filter models.DocumentFilter
	feed   *DocumentFeed

	mu      sync.Mutex
	updates chan models.DocumentSet
	dirty   chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Updates streams snapshots. The channel is closed once the subscription ends.
func (s *Subscription) Updates() <-chan models.DocumentSet {
	return s.updates
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Filter returns the filter the subscription was opened with.
func (s *Subscription) Filter() models.DocumentFilter {
	return s.filter
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s.id)
		s.mu.Lock()
		close(s.done)
		close(s.updates)
		s.mu.Unlock()
	})
}

func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Subscription) loop(ctx context.Context) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.dirty:
			set, err := s.feed.snapshot(ctx, s.filter)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.feed.logger.Warn("refresh subscription", zap.Uint64("subscription", s.id), zap.Error(err))
				continue
			}
			s.deliver(set)
		}
	}
}

func (s *Subscription) deliver(set models.DocumentSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- set
}
