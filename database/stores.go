package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"f0oster/dbspy/notify"
	"f0oster/dbspy/scan"
)

// SnapshotStore persists scan snapshots. History is append-only.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(db *Database) *SnapshotStore {
	return &SnapshotStore{pool: db.Pool()}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *scan.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	summary, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("marshal snapshot summary: %w", err)
	}

	if _, err := s.pool.Exec(ctx, insertSnapshot, snap.ID, snap.ScanTime, summary, body); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent snapshot, or nil before the first scan.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*scan.Snapshot, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, selectLatestSnapshot).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	var snap scan.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SnapshotStore) History(ctx context.Context, limit int) ([]scan.SnapshotMeta, error) {
	rows, err := s.pool.Query(ctx, selectSnapshotHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot history: %w", err)
	}
	defer rows.Close()

	var history []scan.SnapshotMeta
	for rows.Next() {
		var meta scan.SnapshotMeta
		var summary []byte
		if err := rows.Scan(&meta.ID, &meta.ScanTime, &summary); err != nil {
			return nil, fmt.Errorf("scan snapshot history row: %w", err)
		}
		if err := json.Unmarshal(summary, &meta.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot summary: %w", err)
		}
		history = append(history, meta)
	}
	return history, rows.Err()
}

// KnownAccounts returns the account universe from the latest snapshot; it
// makes the snapshot store double as the notifier's identity directory.
func (s *SnapshotStore) KnownAccounts(ctx context.Context) ([]scan.AccountRecord, error) {
	latest, err := s.LoadLatest(ctx)
	if err != nil || latest == nil {
		return nil, err
	}
	return latest.AllAccounts, nil
}

// NotificationStore persists active notifications and their history.
type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(db *Database) *NotificationStore {
	return &NotificationStore{pool: db.Pool()}
}

func (s *NotificationStore) Create(ctx context.Context, n *notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertNotification,
		n.ID, string(n.Type), string(n.Priority), string(n.Status), n.CreatedAt, n.ExpiresAt, body)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Get looks the notification up in the active set first, then in history.
// A missing id returns (nil, nil).
func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*notify.Notification, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, selectNotification, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx, selectHistoryNotification, id).Scan(&body)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}

	var n notify.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification %s: %w", id, err)
	}
	return &n, nil
}

func (s *NotificationStore) ListActive(ctx context.Context, filter notify.ActiveFilter) ([]*notify.Notification, error) {
	rows, err := s.pool.Query(ctx, selectActiveNotifications, string(filter.Priority), string(filter.Type))
	if err != nil {
		return nil, fmt.Errorf("query active notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (s *NotificationStore) Update(ctx context.Context, n *notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = s.pool.Exec(ctx, updateNotification, n.ID, string(n.Status), n.ExpiresAt, body)
	if err != nil {
		return fmt.Errorf("update notification %s: %w", n.ID, err)
	}
	return nil
}

// MoveToHistory atomically inserts the resolved notification into history
// and removes it from the active set.
func (s *NotificationStore) MoveToHistory(ctx context.Context, n *notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if n.CompletedAt == nil {
		return fmt.Errorf("notification %s has no completion time", n.ID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, insertHistoryNotification,
		n.ID, string(n.Type), string(n.Status), *n.CompletedAt, body)
	if err != nil {
		return fmt.Errorf("insert notification history: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteActiveNotification, n.ID); err != nil {
		return fmt.Errorf("delete active notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit move to history: %w", err)
	}
	return nil
}

func (s *NotificationStore) ListHistory(ctx context.Context, limit int) ([]*notify.Notification, error) {
	rows, err := s.pool.Query(ctx, selectNotificationHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("query notification history: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (s *NotificationStore) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, purgeNotificationHistory, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notification history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanNotifications(rows pgx.Rows) ([]*notify.Notification, error) {
	var notifications []*notify.Notification
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		var n notify.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// CorrelationStore persists approved identity correlations.
type CorrelationStore struct {
	pool *pgxpool.Pool
}

func NewCorrelationStore(db *Database) *CorrelationStore {
	return &CorrelationStore{pool: db.Pool()}
}

func (s *CorrelationStore) Save(ctx context.Context, c *notify.Correlation) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal correlation: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertCorrelation, c.ID, c.TargetIdentityID, c.ServerName, c.CreatedAt, body)
	if err != nil {
		return fmt.Errorf("insert correlation: %w", err)
	}
	return nil
}

func (s *CorrelationStore) ListForIdentity(ctx context.Context, identityID string) ([]*notify.Correlation, error) {
	rows, err := s.pool.Query(ctx, selectCorrelationsForIdentity, identityID)
	if err != nil {
		return nil, fmt.Errorf("query correlations: %w", err)
	}
	defer rows.Close()

	var correlations []*notify.Correlation
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan correlation row: %w", err)
		}
		var c notify.Correlation
		if err := json.Unmarshal(body, &c); err != nil {
			return nil, fmt.Errorf("unmarshal correlation: %w", err)
		}
		correlations = append(correlations, &c)
	}
	return correlations, rows.Err()
}
