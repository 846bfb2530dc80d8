package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"f0oster/dbspy/correlate"
	"f0oster/dbspy/scan"
)

const (
	// DefaultTTL bounds a notification's lifetime unless overridden.
	DefaultTTL = 168 * time.Hour

	// DefaultMinConfidence is the score below which a new account is
	// treated as genuinely new rather than a correlation candidate.
	// Tuning parameter, not a contract.
	DefaultMinConfidence = 0.4

	// payload candidate cap for correlation requests
	maxPayloadCandidates = 3
)

// Notifier turns change sets into durable notifications and processes the
// reviewer responses that resolve them. It is the only component allowed to
// create notifications or move their status.
type Notifier struct {
	store         NotificationStore
	correlations  CorrelationStore
	engine        *correlate.Engine
	directory     IdentityDirectory
	effects       SideEffects
	minConfidence float64
	ttl           time.Duration
	now           func() time.Time
}

// NotifierOption customizes a Notifier.
type NotifierOption func(*Notifier)

// WithTTL overrides the default notification lifetime.
func WithTTL(ttl time.Duration) NotifierOption {
	return func(n *Notifier) { n.ttl = ttl }
}

// WithMinConfidence overrides the correlation threshold.
func WithMinConfidence(min float64) NotifierOption {
	return func(n *Notifier) { n.minConfidence = min }
}

// WithSideEffects overrides the action side-effect executor.
func WithSideEffects(effects SideEffects) NotifierOption {
	return func(n *Notifier) { n.effects = effects }
}

// WithNotifierClock overrides the time source.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) { n.now = now }
}

func NewNotifier(
	store NotificationStore,
	correlations CorrelationStore,
	engine *correlate.Engine,
	directory IdentityDirectory,
	opts ...NotifierOption,
) *Notifier {
	n := &Notifier{
		store:         store,
		correlations:  correlations,
		engine:        engine,
		directory:     directory,
		effects:       LoggedSideEffects{},
		minConfidence: DefaultMinConfidence,
		ttl:           DefaultTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ProcessChangeSet creates notifications for every change in the set. New
// accounts are first ranked against the known identities; a top score at or
// above the confidence threshold produces a correlation request instead of a
// plain new-user notification.
func (n *Notifier) ProcessChangeSet(ctx context.Context, changes *scan.ChangeSet) error {
	known, err := n.directory.KnownAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load known accounts: %w", err)
	}

	for _, account := range changes.New {
		matches := n.rankAgainstKnown(account, known)
		if len(matches) > 0 && matches[0].Score >= n.minConfidence {
			correlated, err := n.alreadyCorrelated(ctx, account, matches)
			if err != nil {
				return err
			}
			if correlated {
				log.Printf("Account %s already correlated, no notification created", account.Key())
				continue
			}
			if err := n.createCorrelationRequest(ctx, account, matches, changes.ScanTime); err != nil {
				return err
			}
		} else if err := n.createNewUser(ctx, account, changes.ScanTime); err != nil {
			return err
		}
	}

	for _, account := range changes.Removed {
		if err := n.createRemovedUser(ctx, account, changes.ScanTime); err != nil {
			return err
		}
	}

	for _, modified := range changes.Modified {
		if err := n.createModifiedUser(ctx, modified, changes.ScanTime); err != nil {
			return err
		}
	}

	return nil
}

// rankAgainstKnown excludes the account's own diff key before ranking so an
// account never correlates with its own prior observation.
func (n *Notifier) rankAgainstKnown(account scan.AccountRecord, known []scan.AccountRecord) []correlate.MatchCandidate {
	others := make([]scan.AccountRecord, 0, len(known))
	for _, candidate := range known {
		if candidate.Key() != account.Key() {
			others = append(others, candidate)
		}
	}
	return n.engine.Rank(account, others, n.minConfidence)
}

// alreadyCorrelated reports whether a reviewer has previously linked this
// account to one of the candidate identities. Rediscovery of an approved
// pair is not news.
func (n *Notifier) alreadyCorrelated(ctx context.Context, account scan.AccountRecord, matches []correlate.MatchCandidate) (bool, error) {
	for _, match := range matches {
		existing, err := n.correlations.ListForIdentity(ctx, match.Account.Key())
		if err != nil {
			return false, fmt.Errorf("list correlations for %s: %w", match.Account.Key(), err)
		}
		for _, c := range existing {
			if c.Status == CorrelationStatusActive && c.Account.Key() == account.Key() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (n *Notifier) createCorrelationRequest(ctx context.Context, account scan.AccountRecord, matches []correlate.MatchCandidate, scanTime time.Time) error {
	if len(matches) > maxPayloadCandidates {
		matches = matches[:maxPayloadCandidates]
	}

	notification := n.newNotification(TypeCorrelationRequest,
		fmt.Sprintf("Correlation request - %s", account.Username),
		fmt.Sprintf("New account %s on server %s matches %d known identities", account.Username, account.ServerName, len(matches)),
	)
	notification.Payload.Correlation = &CorrelationPayload{
		Account:        account,
		Candidates:     matches,
		Recommendation: correlate.Recommend(matches[0].Score),
		ServerName:     account.ServerName,
		ScanTime:       scanTime,
	}
	notification.Actions = []ActionID{ActionApproveCorrelation, ActionCreateNewUser, ActionManualCorrelation, ActionReject, ActionIgnore}

	return n.create(ctx, notification)
}

func (n *Notifier) createNewUser(ctx context.Context, account scan.AccountRecord, scanTime time.Time) error {
	notification := n.newNotification(TypeNewUserDetected,
		fmt.Sprintf("New user detected - %s", account.Username),
		fmt.Sprintf("Account %s appeared on server %s", account.Username, account.ServerName),
	)
	notification.Payload.NewUser = &NewUserPayload{Account: account, ServerName: account.ServerName, ScanTime: scanTime}
	notification.Actions = []ActionID{ActionImportUser, ActionCorrelateUser, ActionIgnoreUser, ActionReject, ActionDismiss}

	return n.create(ctx, notification)
}

func (n *Notifier) createRemovedUser(ctx context.Context, account scan.AccountRecord, scanTime time.Time) error {
	notification := n.newNotification(TypeUserRemoved,
		fmt.Sprintf("User removed - %s", account.Username),
		fmt.Sprintf("Account %s disappeared from server %s", account.Username, account.ServerName),
	)
	notification.Payload.RemovedUser = &RemovedUserPayload{Account: account, ServerName: account.ServerName, ScanTime: scanTime}
	notification.Actions = []ActionID{ActionConfirmRemoval, ActionInvestigate, ActionReject, ActionDismiss}

	return n.create(ctx, notification)
}

func (n *Notifier) createModifiedUser(ctx context.Context, modified scan.ModifiedAccount, scanTime time.Time) error {
	account := modified.After
	notification := n.newNotification(TypeUserModified,
		fmt.Sprintf("User modified - %s", account.Username),
		fmt.Sprintf("Account %s changed on server %s", account.Username, account.ServerName),
	)
	notification.Payload.ModifiedUser = &ModifiedUserPayload{
		Before:     modified.Before,
		After:      modified.After,
		ServerName: account.ServerName,
		ScanTime:   scanTime,
	}
	notification.Actions = []ActionID{ActionSyncChanges, ActionReviewChanges, ActionReject, ActionDismiss}

	return n.create(ctx, notification)
}

func (n *Notifier) newNotification(kind Type, title, message string) *Notification {
	now := n.now()
	return &Notification{
		ID:        uuid.New(),
		Type:      kind,
		Title:     title,
		Message:   message,
		Priority:  PriorityHigh,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(n.ttl),
	}
}

func (n *Notifier) create(ctx context.Context, notification *Notification) error {
	if err := n.store.Create(ctx, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	log.Printf("Created notification %s (%s): %s", notification.ID, notification.Type, notification.Title)
	return nil
}

// Respond applies a reviewer action to a pending notification. The audit
// entry is appended before the side effect runs and survives a side-effect
// failure, so failed attempts stay visible and the action can be retried.
func (n *Notifier) Respond(ctx context.Context, id uuid.UUID, action ActionID, actorID string, data map[string]string) error {
	notification, err := n.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup notification %s: %w", id, err)
	}
	if notification == nil || notification.Status.Terminal() {
		return ErrNotFound
	}
	if !notification.AllowsAction(action) {
		return fmt.Errorf("%w: %s", ErrActionNotAllowed, action)
	}

	notification.Responses = append(notification.Responses, ActionResponse{
		ActionID:  action,
		ActorID:   actorID,
		Data:      data,
		Timestamp: n.now(),
	})
	if err := n.store.Update(ctx, notification); err != nil {
		return fmt.Errorf("record response: %w", err)
	}

	if err := n.executeAction(ctx, notification, action, data); err != nil {
		// The notification stays pending with the failed attempt on its
		// audit trail.
		return fmt.Errorf("%w: %s: %v", ErrActionFailed, action, err)
	}

	terminal := action.terminalStatus()
	if terminal == StatusPending {
		log.Printf("Recorded action %s on notification %s (still pending)", action, id)
		return nil
	}

	return n.finalize(ctx, notification, terminal)
}

// executeAction runs the side effect an action implies. Dismissals and
// acknowledgments have none.
func (n *Notifier) executeAction(ctx context.Context, notification *Notification, action ActionID, data map[string]string) error {
	switch action {
	case ActionApproveCorrelation:
		return n.approveCorrelation(ctx, notification, data)
	case ActionCorrelateUser, ActionManualCorrelation:
		return n.manualCorrelation(ctx, notification, data)
	case ActionImportUser:
		payload := notification.Payload.NewUser
		if payload == nil {
			return fmt.Errorf("notification %s has no new-user payload", notification.ID)
		}
		return n.effects.ImportAccount(ctx, payload.Account)
	case ActionSyncChanges:
		payload := notification.Payload.ModifiedUser
		if payload == nil {
			return fmt.Errorf("notification %s has no modified-user payload", notification.ID)
		}
		return n.effects.SyncChanges(ctx, payload.Before, payload.After)
	case ActionConfirmRemoval:
		payload := notification.Payload.RemovedUser
		if payload == nil {
			return fmt.Errorf("notification %s has no removed-user payload", notification.ID)
		}
		return n.effects.ConfirmRemoval(ctx, payload.Account)
	case ActionDismiss, ActionIgnore, ActionIgnoreUser, ActionReject,
		ActionCreateNewUser, ActionInvestigate, ActionReviewChanges:
		return nil
	}
	return fmt.Errorf("unknown action %q", action)
}

// approveCorrelation persists a correlation pointing at the selected match
// candidate. The reviewer may pick a candidate index via data["match_index"];
// the top match is the default.
func (n *Notifier) approveCorrelation(ctx context.Context, notification *Notification, data map[string]string) error {
	payload := notification.Payload.Correlation
	if payload == nil {
		return fmt.Errorf("notification %s has no correlation payload", notification.ID)
	}

	index := 0
	if raw, ok := data["match_index"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed >= len(payload.Candidates) {
			return fmt.Errorf("invalid match_index %q", raw)
		}
		index = parsed
	}
	if len(payload.Candidates) == 0 {
		return fmt.Errorf("notification %s has no match candidates", notification.ID)
	}

	selected := payload.Candidates[index]
	return n.saveCorrelation(ctx, payload.Account, selected.Account.Key(), payload.ServerName)
}

// manualCorrelation persists a correlation against an identity the reviewer
// named explicitly.
func (n *Notifier) manualCorrelation(ctx context.Context, notification *Notification, data map[string]string) error {
	targetID := data["target_identity_id"]
	if targetID == "" {
		return fmt.Errorf("target_identity_id is required")
	}

	var account scan.AccountRecord
	var serverName string
	switch {
	case notification.Payload.Correlation != nil:
		account = notification.Payload.Correlation.Account
		serverName = notification.Payload.Correlation.ServerName
	case notification.Payload.NewUser != nil:
		account = notification.Payload.NewUser.Account
		serverName = notification.Payload.NewUser.ServerName
	default:
		return fmt.Errorf("notification %s carries no account to correlate", notification.ID)
	}

	return n.saveCorrelation(ctx, account, targetID, serverName)
}

func (n *Notifier) saveCorrelation(ctx context.Context, account scan.AccountRecord, targetID, serverName string) error {
	correlation := &Correlation{
		ID:               uuid.New(),
		Account:          account,
		TargetIdentityID: targetID,
		ServerName:       serverName,
		CreatedAt:        n.now(),
		Status:           CorrelationStatusActive,
	}
	if err := n.correlations.Save(ctx, correlation); err != nil {
		return fmt.Errorf("save correlation: %w", err)
	}
	log.Printf("Correlated account %s with identity %s", account.Username, targetID)
	return nil
}

func (n *Notifier) finalize(ctx context.Context, notification *Notification, terminal Status) error {
	completed := n.now()
	notification.Status = terminal
	notification.CompletedAt = &completed
	if err := n.store.MoveToHistory(ctx, notification); err != nil {
		return fmt.Errorf("move notification %s to history: %w", notification.ID, err)
	}
	log.Printf("Notification %s resolved as %s", notification.ID, terminal)
	return nil
}

// ListActive returns the pending notifications matching the filter, sorted
// by priority then creation time (newest first). Expired entries found
// during the read are swept to history before the list is returned.
func (n *Notifier) ListActive(ctx context.Context, filter ActiveFilter) ([]*Notification, error) {
	if _, err := n.ExpireStale(ctx); err != nil {
		return nil, err
	}

	active, err := n.store.ListActive(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list active notifications: %w", err)
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority.rank() < active[j].Priority.rank()
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Get returns a notification from the active set or history.
func (n *Notifier) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	notification, err := n.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if notification == nil {
		return nil, ErrNotFound
	}
	return notification, nil
}

// ExpireStale transitions every pending notification whose lifetime has
// elapsed to Expired and moves it to history. This is the only transition
// driven by time rather than a reviewer action.
func (n *Notifier) ExpireStale(ctx context.Context) (int, error) {
	active, err := n.store.ListActive(ctx, ActiveFilter{})
	if err != nil {
		return 0, fmt.Errorf("list active notifications: %w", err)
	}

	now := n.now()
	expired := 0
	for _, notification := range active {
		if !notification.ExpiredAt(now) {
			continue
		}
		if err := n.finalize(ctx, notification, StatusExpired); err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		log.Printf("Expired %d stale notifications", expired)
	}
	return expired, nil
}

// Stats summarizes the backlog and the most recent history entries.
func (n *Notifier) Stats(ctx context.Context) (*Statistics, error) {
	active, err := n.store.ListActive(ctx, ActiveFilter{})
	if err != nil {
		return nil, fmt.Errorf("list active notifications: %w", err)
	}
	history, err := n.store.ListHistory(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("list notification history: %w", err)
	}

	stats := &Statistics{
		TotalPending:   len(active),
		TotalProcessed: len(history),
		StatusCounts:   make(map[Status]int),
		PriorityCounts: make(map[Priority]int),
		TypeCounts:     make(map[Type]int),
	}
	for _, notification := range active {
		stats.StatusCounts[notification.Status]++
		stats.PriorityCounts[notification.Priority]++
		stats.TypeCounts[notification.Type]++
	}
	for _, notification := range history {
		stats.StatusCounts[notification.Status]++
		stats.TypeCounts[notification.Type]++
	}
	return stats, nil
}

// CleanupHistory drops history entries completed more than retention ago.
func (n *Notifier) CleanupHistory(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := n.now().Add(-retention)
	removed, err := n.store.PurgeHistoryBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notification history: %w", err)
	}
	if removed > 0 {
		log.Printf("Cleaned up %d old notifications", removed)
	}
	return removed, nil
}

func logIntent(kind string, account scan.AccountRecord) {
	log.Printf("Recorded %s intent for account %s on %s", kind, account.Username, account.ServerName)
}
