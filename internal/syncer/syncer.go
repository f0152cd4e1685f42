package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	mqcontracts "notifysync/contracts/mq"
	"notifysync/internal/cache"
	"notifysync/internal/model"
	"notifysync/pkg/metrics"
)

// BackendStore is the authoritative notification collection, satisfied
// by repository.NotificationRepository.
type BackendStore interface {
	ListByUser(ctx context.Context, userID string) ([]*model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, id string) error
}

// Notifier mirrors a freshly ingested notification to the device while
// the app is foregrounded.
type Notifier interface {
	Notify(ctx context.Context, userID string, n *model.Notification) error
}

// Syncer owns the canonical in-memory notification list and its unread
// counter. It is the single writer: the realtime manager, the lifecycle
// controller and the HTTP handlers only call its methods, never touch
// state directly. The cache is a derived, best-effort mirror.
//
// Memory is always mutated before any blocking call, so callers observe
// updates immediately; the cache can lag one write behind, which is
// acceptable for a fallback.
type Syncer struct {
	store    BackendStore
	cache    *cache.Cache
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	userID       string
	list         []*model.Notification
	unread       int
	lastUpdated  time.Time
	foregrounded bool
}

func New(store BackendStore, c *cache.Cache, notifier Notifier, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:    store,
		cache:    c,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetUser binds the syncer to a logged-in user and resets state.
func (s *Syncer) SetUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.list = nil
	s.unread = 0
	s.lastUpdated = time.Time{}
}

func (s *Syncer) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetForegrounded toggles the push mirror: only a foregrounded app
// mirrors realtime events locally, because a backgrounded app already
// gets the OS push independently.
func (s *Syncer) SetForegrounded(fg bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foregrounded = fg
}

// List returns a copy of the in-memory list, most recent first.
func (s *Syncer) List() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Notification, len(s.list))
	copy(out, s.list)
	return out
}

func (s *Syncer) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Syncer) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

// LoadCache seeds memory from the persisted cache, for cold start and
// login before the first refresh completes.
func (s *Syncer) LoadCache(ctx context.Context) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return
	}

	records := s.cache.Get(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = records
	s.unread = countUnread(records)
}

// Ingest normalizes a realtime envelope and prepends it to the list.
// Envelopes whose id is already present are dropped: at-least-once
// broker delivery must not double-count unread.
func (s *Syncer) Ingest(ctx context.Context, env *mqcontracts.Envelope) {
	record := model.FromEnvelope(env)

	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		metrics.IncrementEnvelopeDropped("no_user")
		return
	}
	for _, existing := range s.list {
		if existing.ID == record.ID {
			s.mu.Unlock()
			metrics.IncrementEnvelopeDropped("duplicate")
			s.logger.Debug("Dropped duplicate envelope", zap.String("id", record.ID))
			return
		}
	}

	s.list = append([]*model.Notification{record}, s.list...)
	s.unread++
	userID := s.userID
	foregrounded := s.foregrounded
	snapshot := s.copyListLocked()
	s.mu.Unlock()

	metrics.IncrementEnvelopeIngested(string(env.Type))
	s.cache.Set(ctx, userID, snapshot)

	if foregrounded && s.notifier != nil {
		if err := s.notifier.Notify(ctx, userID, record); err != nil {
			s.logger.Warn("Failed to mirror notification",
				zap.String("id", record.ID),
				zap.Error(err),
			)
		}
	}
}

// Refresh replaces the in-memory list with the backend's authoritative
// one. On failure it falls back to the cache; a silent refresh swallows
// the error, a user-initiated one returns it. Refresh never leaves
// state inconsistent.
func (s *Syncer) Refresh(ctx context.Context, silent bool) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return nil
	}

	start := s.now()
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		metrics.RecordRefreshDuration("fallback", s.now().Sub(start))
		s.logger.Warn("Refresh failed, falling back to cache",
			zap.String("user_id", userID),
			zap.Bool("silent", silent),
			zap.Error(err),
		)

		cached := s.cache.Get(ctx, userID)
		s.mu.Lock()
		s.list = cached
		s.unread = countUnread(cached)
		s.mu.Unlock()

		if silent {
			return nil
		}
		return fmt.Errorf("failed to refresh notifications: %w", err)
	}

	if records == nil {
		records = []*model.Notification{}
	}

	s.mu.Lock()
	s.list = records
	s.unread = countUnread(records)
	s.lastUpdated = s.now()
	snapshot := s.copyListLocked()
	s.mu.Unlock()

	metrics.RecordRefreshDuration("ok", s.now().Sub(start))
	s.cache.Set(ctx, userID, snapshot)
	return nil
}

// MarkAsRead confirms with the backend first, then mutates local state.
// A failure leaves local state untouched.
func (s *Syncer) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return nil
	}

	if err := s.store.MarkRead(ctx, userID, id); err != nil {
		s.logger.Warn("Failed to mark notification read",
			zap.String("id", id),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	s.mu.Lock()
	for _, n := range s.list {
		if n.ID == id {
			if !n.Read {
				n.Read = true
				if s.unread > 0 {
					s.unread--
				}
			}
			break
		}
	}
	snapshot := s.copyListLocked()
	s.mu.Unlock()

	s.cache.Set(ctx, userID, snapshot)
	return nil
}

// MarkAllAsRead marks the whole collection read, backend first.
func (s *Syncer) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return nil
	}

	if err := s.store.MarkAllRead(ctx, userID); err != nil {
		s.logger.Warn("Failed to mark all notifications read",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	s.mu.Lock()
	for _, n := range s.list {
		n.Read = true
	}
	s.unread = 0
	snapshot := s.copyListLocked()
	s.mu.Unlock()

	s.cache.Set(ctx, userID, snapshot)
	return nil
}

// Delete is optimistic: the record disappears locally before the
// backend confirms, and the pre-mutation snapshot is restored if the
// backend rejects. Delete is the one destructive, user-visible
// operation, so it carries explicit compensation.
func (s *Syncer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return nil
	}

	prevList := s.copyListLocked()
	prevUnread := s.unread

	idx := -1
	for i, n := range s.list {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return nil
	}

	removed := s.list[idx]
	s.list = append(s.list[:idx:idx], s.list[idx+1:]...)
	if !removed.Read && s.unread > 0 {
		s.unread--
	}
	snapshot := s.copyListLocked()
	s.mu.Unlock()

	s.cache.Set(ctx, userID, snapshot)

	if err := s.store.Delete(ctx, userID, id); err != nil {
		s.logger.Warn("Delete rejected by backend, restoring local state",
			zap.String("id", id),
			zap.Error(err),
		)

		s.mu.Lock()
		s.list = prevList
		s.unread = prevUnread
		restored := s.copyListLocked()
		s.mu.Unlock()

		s.cache.Set(ctx, userID, restored)
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	return nil
}

// ClearAll drops all local notification state. Local-only: the backend
// collection is not touched.
func (s *Syncer) ClearAll(ctx context.Context) {
	s.mu.Lock()
	userID := s.userID
	s.list = nil
	s.unread = 0
	s.lastUpdated = time.Time{}
	s.mu.Unlock()

	if userID != "" {
		s.cache.Clear(ctx, userID)
	}
}

// copyListLocked returns a shallow copy of the list. Callers must hold mu.
func (s *Syncer) copyListLocked() []*model.Notification {
	out := make([]*model.Notification, len(s.list))
	copy(out, s.list)
	return out
}

func countUnread(records []*model.Notification) int {
	count := 0
	for _, n := range records {
		if !n.Read {
			count++
		}
	}
	return count
}
