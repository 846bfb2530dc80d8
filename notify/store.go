package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"f0oster/dbspy/scan"
)

var (
	// ErrNotFound is returned when a notification does not exist or is
	// already terminal.
	ErrNotFound = errors.New("notification not found")

	// ErrActionNotAllowed is returned when the requested action is not in
	// the notification's allowed action set.
	ErrActionNotAllowed = errors.New("action not allowed for notification")

	// ErrActionFailed wraps a side-effect failure. The audit entry for the
	// attempt is preserved and the notification stays pending.
	ErrActionFailed = errors.New("notification action failed")
)

// ActiveFilter narrows a ListActive query. Zero values match everything.
type ActiveFilter struct {
	Priority Priority
	Type     Type
}

// Matches reports whether a notification passes the filter.
func (f ActiveFilter) Matches(n *Notification) bool {
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	return true
}

// NotificationStore persists active notifications and their history.
// Active records are mutable through Update; history is append-only.
type NotificationStore interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListActive(ctx context.Context, filter ActiveFilter) ([]*Notification, error)
	Update(ctx context.Context, n *Notification) error
	MoveToHistory(ctx context.Context, n *Notification) error
	ListHistory(ctx context.Context, limit int) ([]*Notification, error)
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CorrelationStore persists approved identity correlations.
type CorrelationStore interface {
	Save(ctx context.Context, c *Correlation) error
	ListForIdentity(ctx context.Context, identityID string) ([]*Correlation, error)
}

// IdentityDirectory supplies the previously known accounts that new
// accounts are correlated against.
type IdentityDirectory interface {
	KnownAccounts(ctx context.Context) ([]scan.AccountRecord, error)
}

// SideEffects executes the state-changing work an approved action implies.
// The pipeline records the intent; carrying it out against a live server is
// a collaborator concern.
type SideEffects interface {
	ImportAccount(ctx context.Context, account scan.AccountRecord) error
	SyncChanges(ctx context.Context, before, after scan.AccountRecord) error
	ConfirmRemoval(ctx context.Context, account scan.AccountRecord) error
}

// LoggedSideEffects is the default SideEffects implementation: it records
// the approved intent in the log and succeeds.
type LoggedSideEffects struct{}

func (LoggedSideEffects) ImportAccount(ctx context.Context, account scan.AccountRecord) error {
	logIntent("import", account)
	return nil
}

func (LoggedSideEffects) SyncChanges(ctx context.Context, before, after scan.AccountRecord) error {
	logIntent("sync", after)
	return nil
}

func (LoggedSideEffects) ConfirmRemoval(ctx context.Context, account scan.AccountRecord) error {
	logIntent("remove", account)
	return nil
}
