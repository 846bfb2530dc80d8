package notify

import (
	"time"

	"github.com/google/uuid"

	"f0oster/dbspy/correlate"
	"f0oster/dbspy/scan"
)

// Type is the closed set of notification kinds.
type Type string

const (
	TypeNewUserDetected    Type = "new_user_detected"
	TypeUserRemoved        Type = "user_removed"
	TypeUserModified       Type = "user_modified"
	TypeCorrelationRequest Type = "correlation_request"
	TypeSystemAlert        Type = "system_alert"
)

// Status is the closed set of notification lifecycle states. Pending is the
// only non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDismissed Status = "dismissed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusDismissed, StatusExpired:
		return true
	case StatusPending:
		return false
	}
	return false
}

// Priority orders notifications for review.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// rank returns the sort weight of a priority, most urgent first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

// ActionID names one action a reviewer can take on a notification.
type ActionID string

const (
	ActionImportUser         ActionID = "import_user"
	ActionCorrelateUser      ActionID = "correlate_user"
	ActionIgnoreUser         ActionID = "ignore_user"
	ActionDismiss            ActionID = "dismiss"
	ActionConfirmRemoval     ActionID = "confirm_removal"
	ActionInvestigate        ActionID = "investigate"
	ActionSyncChanges        ActionID = "sync_changes"
	ActionReviewChanges      ActionID = "review_changes"
	ActionApproveCorrelation ActionID = "approve_correlation"
	ActionCreateNewUser      ActionID = "create_new_user"
	ActionManualCorrelation  ActionID = "manual_correlation"
	ActionIgnore             ActionID = "ignore"
	ActionReject             ActionID = "reject"
)

// terminalStatus returns the terminal status an action implies on success,
// or StatusPending when the action leaves the notification open
// (investigate and review_changes are acknowledgments, not resolutions).
func (a ActionID) terminalStatus() Status {
	switch a {
	case ActionDismiss, ActionIgnore, ActionIgnoreUser:
		return StatusDismissed
	case ActionApproveCorrelation, ActionImportUser, ActionConfirmRemoval, ActionSyncChanges:
		return StatusApproved
	case ActionReject:
		return StatusRejected
	case ActionCorrelateUser, ActionManualCorrelation, ActionCreateNewUser,
		ActionInvestigate, ActionReviewChanges:
		return StatusPending
	}
	return StatusPending
}

// ActionResponse is one audit record of a reviewer decision. Responses are
// append-only and never edited or removed.
type ActionResponse struct {
	ActionID  ActionID          `json:"action_id"`
	ActorID   string            `json:"actor_id"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Payload is a tagged union keyed by the notification type: exactly one
// variant is set for change notifications. Unknown fields read from older
// stored payloads are ignored.
type Payload struct {
	NewUser      *NewUserPayload      `json:"new_user,omitempty"`
	RemovedUser  *RemovedUserPayload  `json:"removed_user,omitempty"`
	ModifiedUser *ModifiedUserPayload `json:"modified_user,omitempty"`
	Correlation  *CorrelationPayload  `json:"correlation,omitempty"`
	Alert        *AlertPayload        `json:"alert,omitempty"`
}

type NewUserPayload struct {
	Account    scan.AccountRecord `json:"account"`
	ServerName string             `json:"server_name"`
	ScanTime   time.Time          `json:"scan_time"`
}

type RemovedUserPayload struct {
	Account    scan.AccountRecord `json:"account"`
	ServerName string             `json:"server_name"`
	ScanTime   time.Time          `json:"scan_time"`
}

type ModifiedUserPayload struct {
	Before     scan.AccountRecord `json:"before"`
	After      scan.AccountRecord `json:"after"`
	ServerName string             `json:"server_name"`
	ScanTime   time.Time          `json:"scan_time"`
}

// CorrelationPayload carries the ranked identity matches for a new account.
// Candidates holds at most three entries.
type CorrelationPayload struct {
	Account        scan.AccountRecord         `json:"account"`
	Candidates     []correlate.MatchCandidate `json:"candidates"`
	Recommendation correlate.Recommendation   `json:"recommendation"`
	ServerName     string                     `json:"server_name"`
	ScanTime       time.Time                  `json:"scan_time"`
}

type AlertPayload struct {
	Detail string `json:"detail"`
}

// Notification is a durable work item for a detected change. It is created
// by the Notifier, mutated only through the action-response protocol, and
// moved to history once its status leaves Pending.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Type      Type             `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Payload   Payload          `json:"payload"`
	Priority  Priority         `json:"priority"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	Actions   []ActionID       `json:"actions"`
	Responses []ActionResponse `json:"responses,omitempty"`

	// CompletedAt is set when the notification reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AllowsAction reports whether the action is in the notification's allowed
// action set.
func (n *Notification) AllowsAction(action ActionID) bool {
	for _, allowed := range n.Actions {
		if allowed == action {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the notification's lifetime has elapsed at the
// given instant.
func (n *Notification) ExpiredAt(now time.Time) bool {
	return !n.ExpiresAt.After(now)
}

// Correlation is a human-confirmed link between a newly observed account and
// a previously known identity. It is persisted separately from notifications
// so later scans can short-circuit correlation for the same pair.
type Correlation struct {
	ID               uuid.UUID          `json:"id"`
	Account          scan.AccountRecord `json:"account"`
	TargetIdentityID string             `json:"target_identity_id"`
	ServerName       string             `json:"server_name"`
	CreatedAt        time.Time          `json:"created_at"`
	Status           string             `json:"status"`
}

// CorrelationStatusActive marks a correlation that is currently in force.
const CorrelationStatusActive = "active"

// Statistics summarizes the notification backlog and recent history.
type Statistics struct {
	TotalPending   int              `json:"total_pending"`
	TotalProcessed int              `json:"total_processed"`
	StatusCounts   map[Status]int   `json:"status_counts"`
	PriorityCounts map[Priority]int `json:"priority_counts"`
	TypeCounts     map[Type]int     `json:"type_counts"`
}
