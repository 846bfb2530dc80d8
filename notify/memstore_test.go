package notify_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"f0oster/dbspy/notify"
	"f0oster/dbspy/scan"
)

// memStore is an in-memory NotificationStore. Like the database-backed
// store it hands out copies, so mutations only persist through Update or
// MoveToHistory.
type memStore struct {
	mu      sync.Mutex
	active  map[uuid.UUID]*notify.Notification
	history []*notify.Notification
}

func newMemStore() *memStore {
	return &memStore{active: make(map[uuid.UUID]*notify.Notification)}
}

func copyNotification(n *notify.Notification) *notify.Notification {
	clone := *n
	clone.Actions = append([]notify.ActionID(nil), n.Actions...)
	clone.Responses = append([]notify.ActionResponse(nil), n.Responses...)
	return &clone
}

func (m *memStore) Create(_ context.Context, n *notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[n.ID] = copyNotification(n)
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*notify.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.active[id]; ok {
		return copyNotification(n), nil
	}
	for _, n := range m.history {
		if n.ID == id {
			return copyNotification(n), nil
		}
	}
	return nil, nil
}

func (m *memStore) ListActive(_ context.Context, filter notify.ActiveFilter) ([]*notify.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notify.Notification
	for _, n := range m.active {
		if filter.Matches(n) {
			out = append(out, copyNotification(n))
		}
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, n *notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[n.ID]; !ok {
		return errors.New("notification not active")
	}
	m.active[n.ID] = copyNotification(n)
	return nil
}

func (m *memStore) MoveToHistory(_ context.Context, n *notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[n.ID]; !ok {
		return errors.New("notification not active")
	}
	delete(m.active, n.ID)
	m.history = append(m.history, copyNotification(n))
	return nil
}

func (m *memStore) ListHistory(_ context.Context, limit int) ([]*notify.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notify.Notification
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyNotification(m.history[i]))
	}
	return out, nil
}

func (m *memStore) PurgeHistoryBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*notify.Notification
	removed := 0
	for _, n := range m.history {
		if n.CompletedAt != nil && n.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	m.history = kept
	return removed, nil
}

type memCorrelations struct {
	mu    sync.Mutex
	saved []*notify.Correlation
}

func (m *memCorrelations) Save(_ context.Context, c *notify.Correlation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.saved = append(m.saved, &clone)
	return nil
}

func (m *memCorrelations) ListForIdentity(_ context.Context, identityID string) ([]*notify.Correlation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notify.Correlation
	for _, c := range m.saved {
		if c.TargetIdentityID == identityID {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

type staticDirectory struct {
	accounts []scan.AccountRecord
}

func (d *staticDirectory) KnownAccounts(context.Context) ([]scan.AccountRecord, error) {
	return d.accounts, nil
}

// failingEffects rejects every side effect with the configured error.
type failingEffects struct {
	err error
}

func (f failingEffects) ImportAccount(context.Context, scan.AccountRecord) error {
	return f.err
}

func (f failingEffects) SyncChanges(context.Context, scan.AccountRecord, scan.AccountRecord) error {
	return f.err
}

func (f failingEffects) ConfirmRemoval(context.Context, scan.AccountRecord) error {
	return f.err
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
