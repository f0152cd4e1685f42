package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "notifysync/contracts/mq"
	"notifysync/internal/cache"
	"notifysync/internal/model"
)

type fakeBackend struct {
	records    []*model.Notification
	listErr    error
	markErr    error
	markAllErr error
	delErr     error

	deleted []string
	marked  []string
}

func (f *fakeBackend) ListByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, userID, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeBackend) MarkAllRead(ctx context.Context, userID string) error {
	return f.markAllErr
}

func (f *fakeBackend) Delete(ctx context.Context, userID, id string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeNotifier struct {
	notified []*model.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, userID string, n *model.Notification) error {
	f.notified = append(f.notified, n)
	return nil
}

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok := s.data[key]
	return val, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	s.data[key] = value
	return nil
}

func (s *memStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func newTestSyncer(backend *fakeBackend) (*Syncer, *fakeNotifier, *cache.Cache) {
	notifier := &fakeNotifier{}
	c := cache.New(newMemStore(), zap.NewNop())
	s := New(backend, c, notifier, zap.NewNop())
	s.SetUser("u1")
	return s, notifier, c
}

func envelope(id string, envType mqcontracts.EnvelopeType) *mqcontracts.Envelope {
	return &mqcontracts.Envelope{
		ID:        id,
		Title:     "title " + id,
		Message:   "body " + id,
		UserID:    "u1",
		CreatedAt: time.Now().UTC(),
		Type:      envType,
	}
}

// assertCounterConsistent checks that the unread counter equals the
// number of unread records in the list.
func assertCounterConsistent(t *testing.T, s *Syncer) {
	t.Helper()
	unread := 0
	for _, n := range s.List() {
		if !n.Read {
			unread++
		}
	}
	assert.Equal(t, unread, s.UnreadCount(), "unread counter out of sync with list")
}

func TestRefreshReplacesListAndDerivesCounter(t *testing.T) {
	// Empty cache, non-silent refresh of one unread and one read record.
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: true},
	}}
	s, _, c := newTestSyncer(backend)

	require.NoError(t, s.Refresh(context.Background(), false))

	assert.Len(t, s.List(), 2)
	assert.Equal(t, 1, s.UnreadCount())
	assert.False(t, s.LastUpdated().IsZero())
	assertCounterConsistent(t, s)

	// cache now mirrors the two records
	cached := c.Get(context.Background(), "u1")
	assert.Len(t, cached, 2)
}

func TestRefreshFailureFallsBackToCache(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{{ID: "1"}}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	backend.listErr = errors.New("backend unavailable")

	t.Run("silent swallows the error", func(t *testing.T) {
		err := s.Refresh(context.Background(), true)
		assert.NoError(t, err)
		assert.Len(t, s.List(), 1, "cache fallback should keep records visible")
		assertCounterConsistent(t, s)
	})

	t.Run("non-silent surfaces the error", func(t *testing.T) {
		err := s.Refresh(context.Background(), false)
		assert.Error(t, err)
		assert.Len(t, s.List(), 1)
		assertCounterConsistent(t, s)
	})
}

func TestMarkAsRead(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{{ID: "1", Read: false}}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.NoError(t, s.MarkAsRead(context.Background(), "1"))

	list := s.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, []string{"1"}, backend.marked)
	assertCounterConsistent(t, s)
}

func TestMarkAsReadServerFailureLeavesStateUntouched(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{{ID: "1", Read: false}}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	backend.markErr = errors.New("backend rejected")

	err := s.MarkAsRead(context.Background(), "1")
	assert.Error(t, err)
	assert.False(t, s.List()[0].Read)
	assert.Equal(t, 1, s.UnreadCount())
	assertCounterConsistent(t, s)
}

func TestMarkAsReadIsIdempotentOnCounter(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{{ID: "1", Read: false}}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.NoError(t, s.MarkAsRead(context.Background(), "1"))
	require.NoError(t, s.MarkAsRead(context.Background(), "1"))

	assert.Equal(t, 0, s.UnreadCount(), "re-reading must not drive the counter negative")
	assertCounterConsistent(t, s)
}

func TestMarkAllAsRead(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: false},
		{ID: "3", Read: true},
	}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.NoError(t, s.MarkAllAsRead(context.Background()))

	for _, n := range s.List() {
		assert.True(t, n.Read)
	}
	assert.Equal(t, 0, s.UnreadCount())
	assertCounterConsistent(t, s)
}

func TestMarkAllAsReadSurfacesFailure(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{{ID: "1", Read: false}}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	backend.markAllErr = errors.New("backend rejected")

	err := s.MarkAllAsRead(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, s.UnreadCount())
	assertCounterConsistent(t, s)
}

func TestIngestPrependsAndMirrors(t *testing.T) {
	// Two unread records, then a broadcast envelope arrives while
	// foregrounded.
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: false},
	}}
	s, notifier, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))
	s.SetForegrounded(true)

	s.Ingest(context.Background(), envelope("3", mqcontracts.EnvelopeBroadcast))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "3", list[0].ID, "newest record goes first")
	assert.Equal(t, "body 3", list[0].Body, "wire message becomes body")
	assert.Equal(t, 3, s.UnreadCount())
	require.Len(t, notifier.notified, 1)
	assert.Equal(t, "3", notifier.notified[0].ID)
	assertCounterConsistent(t, s)
}

func TestIngestBackgroundedDoesNotMirror(t *testing.T) {
	s, notifier, _ := newTestSyncer(&fakeBackend{})
	s.SetForegrounded(false)

	s.Ingest(context.Background(), envelope("1", mqcontracts.EnvelopeSingle))

	assert.Len(t, s.List(), 1)
	assert.Empty(t, notifier.notified, "backgrounded app must not mirror, the OS push does it")
}

func TestIngestDropsDuplicateIDs(t *testing.T) {
	s, _, _ := newTestSyncer(&fakeBackend{})
	s.SetForegrounded(false)

	s.Ingest(context.Background(), envelope("1", mqcontracts.EnvelopeSingle))
	s.Ingest(context.Background(), envelope("1", mqcontracts.EnvelopeSingle))

	assert.Len(t, s.List(), 1, "duplicate delivery must not create a second entry")
	assert.Equal(t, 1, s.UnreadCount(), "duplicate delivery must not double-count unread")
	assertCounterConsistent(t, s)
}

func TestIngestWithoutUserIsDropped(t *testing.T) {
	notifier := &fakeNotifier{}
	c := cache.New(newMemStore(), zap.NewNop())
	s := New(&fakeBackend{}, c, notifier, zap.NewNop())

	s.Ingest(context.Background(), envelope("1", mqcontracts.EnvelopeSingle))

	assert.Empty(t, s.List())
	assert.Equal(t, 0, s.UnreadCount())
}

func TestDeleteOptimisticWithCompensation(t *testing.T) {
	// A rejected server delete restores the exact pre-call state.
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: true},
	}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	beforeList := s.List()
	beforeUnread := s.UnreadCount()

	backend.delErr = errors.New("backend rejected")

	err := s.Delete(context.Background(), "1")
	assert.Error(t, err)
	assert.Equal(t, beforeList, s.List())
	assert.Equal(t, beforeUnread, s.UnreadCount())
	assertCounterConsistent(t, s)
}

func TestDeleteSuccess(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: true},
	}}
	s, _, c := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.NoError(t, s.Delete(context.Background(), "1"))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "2", list[0].ID)
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, []string{"1"}, backend.deleted)
	assertCounterConsistent(t, s)

	cached := c.Get(context.Background(), "u1")
	assert.Len(t, cached, 1)
}

func TestDeleteUnknownIDIsNoop(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{{ID: "1"}}}
	s, _, _ := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	require.NoError(t, s.Delete(context.Background(), "missing"))

	assert.Len(t, s.List(), 1)
	assert.Empty(t, backend.deleted)
}

func TestClearAll(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: false},
	}}
	s, _, c := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	s.ClearAll(context.Background())

	assert.Empty(t, s.List())
	assert.Equal(t, 0, s.UnreadCount())
	assert.Empty(t, c.Get(context.Background(), "u1"))
	assert.Empty(t, backend.deleted, "clear all is local only")
}

func TestLoadCacheSeedsMemory(t *testing.T) {
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "1", Read: false},
		{ID: "2", Read: true},
	}}
	s, _, c := newTestSyncer(backend)
	require.NoError(t, s.Refresh(context.Background(), false))

	// a second syncer over the same cache simulates a cold start
	s2 := New(backend, c, nil, zap.NewNop())
	s2.SetUser("u1")
	s2.LoadCache(context.Background())

	assert.Len(t, s2.List(), 2)
	assert.Equal(t, 1, s2.UnreadCount())
}

func TestCounterConsistencyAcrossOperations(t *testing.T) {
	// The counter stays derivable from the list across a whole
	// operation sequence.
	backend := &fakeBackend{records: []*model.Notification{
		{ID: "a", Read: false},
		{ID: "b", Read: true},
	}}
	s, _, _ := newTestSyncer(backend)

	steps := []struct {
		name string
		op   func()
	}{
		{"refresh", func() { _ = s.Refresh(context.Background(), false) }},
		{"ingest", func() { s.Ingest(context.Background(), envelope("c", mqcontracts.EnvelopeSingle)) }},
		{"mark read", func() { _ = s.MarkAsRead(context.Background(), "a") }},
		{"delete", func() { _ = s.Delete(context.Background(), "c") }},
		{"mark all read", func() { _ = s.MarkAllAsRead(context.Background()) }},
		{"clear all", func() { s.ClearAll(context.Background()) }},
	}

	for _, step := range steps {
		step.op()
		assertCounterConsistent(t, s)
	}
}
