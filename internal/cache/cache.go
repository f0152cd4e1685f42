package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"notifysync/internal/model"
)

const DefaultFreshness = 30 * time.Second

// Cache is a time-bounded read-through cache over the device store. It
// keeps an in-process snapshot of the last known notification list and
// only touches the store when the snapshot has gone stale. Persistence
// is best-effort: store errors are logged and swallowed so the cache
// degrades to "no cache" instead of failing the caller.
type Cache struct {
	store     Store
	logger    *zap.Logger
	freshness time.Duration
	now       func() time.Time

	mu         sync.Mutex
	snapUserID string
	snapshot   []*model.Notification
	fetchedAt  time.Time
}

func New(store Store, logger *zap.Logger) *Cache {
	return &Cache{
		store:     store,
		logger:    logger,
		freshness: DefaultFreshness,
		now:       time.Now,
	}
}

// SetFreshness overrides the in-process freshness window.
func (c *Cache) SetFreshness(d time.Duration) {
	if d > 0 {
		c.freshness = d
	}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("notifications:cache:%s", userID)
}

func lastUpdatedKey(userID string) string {
	return fmt.Sprintf("notifications:last_updated:%s", userID)
}

// Get returns the in-process snapshot when it belongs to userID and is
// younger than the freshness window. Otherwise it reads through from
// the store, treating missing or corrupt data as an empty list, and
// repopulates the snapshot with a fresh timestamp.
func (c *Cache) Get(ctx context.Context, userID string) []*model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapUserID == userID && c.snapshot != nil && c.now().Sub(c.fetchedAt) < c.freshness {
		return c.snapshot
	}

	records := c.readStore(ctx, userID)
	c.snapUserID = userID
	c.snapshot = records
	c.fetchedAt = c.now()
	return records
}

func (c *Cache) readStore(ctx context.Context, userID string) []*model.Notification {
	val, found, err := c.store.Get(ctx, cacheKey(userID))
	if err != nil {
		c.logger.Warn("Notification cache read failed", zap.String("user_id", userID), zap.Error(err))
		return []*model.Notification{}
	}
	if !found {
		return []*model.Notification{}
	}

	var records []*model.Notification
	if err := json.Unmarshal([]byte(val), &records); err != nil {
		c.logger.Warn("Corrupt notification cache entry, treating as empty",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return []*model.Notification{}
	}
	if records == nil {
		records = []*model.Notification{}
	}
	return records
}

// Set replaces the snapshot and persists the list plus a last-updated
// timestamp. Store failures never propagate.
func (c *Cache) Set(ctx context.Context, userID string, records []*model.Notification) {
	c.mu.Lock()
	c.snapUserID = userID
	c.snapshot = records
	c.fetchedAt = c.now()
	c.mu.Unlock()

	payload, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("Failed to encode notification cache", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if err := c.store.Set(ctx, cacheKey(userID), string(payload)); err != nil {
		c.logger.Warn("Failed to persist notification cache", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, lastUpdatedKey(userID), c.now().UTC().Format(time.RFC3339)); err != nil {
		c.logger.Warn("Failed to persist cache timestamp", zap.String("user_id", userID), zap.Error(err))
	}
}

// LastUpdated reads the persisted last-updated timestamp, returning the
// zero time when absent or unreadable.
func (c *Cache) LastUpdated(ctx context.Context, userID string) time.Time {
	val, found, err := c.store.Get(ctx, lastUpdatedKey(userID))
	if err != nil || !found {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Clear drops the snapshot and deletes both persisted keys.
func (c *Cache) Clear(ctx context.Context, userID string) {
	c.mu.Lock()
	c.snapUserID = ""
	c.snapshot = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()

	if err := c.store.Del(ctx, cacheKey(userID), lastUpdatedKey(userID)); err != nil {
		c.logger.Warn("Failed to clear notification cache", zap.String("user_id", userID), zap.Error(err))
	}
}
