package scan

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect identifies the kind of server an account was observed on.
type Dialect string

const (
	DialectPostgres Dialect = "postgresql"
	DialectRedshift Dialect = "redshift"
	DialectLDAP     Dialect = "ldap"
)

// ServerDescriptor identifies one server to scan. It is supplied by
// configuration and never mutated by the pipeline.
type ServerDescriptor struct {
	// Name is the operator-facing identifier, unique across the fleet.
	Name string `json:"name"`

	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Dialect Dialect `json:"dialect"`

	// DSN is the connection string for SQL dialects.
	DSN string `json:"dsn,omitempty"`

	// BaseDN, BindDN and BindPassword are used by the LDAP dialect only.
	BaseDN       string `json:"base_dn,omitempty"`
	BindDN       string `json:"bind_dn,omitempty"`
	BindPassword string `json:"bind_password,omitempty"`
}

// AccountRecord is one account as observed during a single scan. Records are
// produced fresh on every cycle and superseded, never mutated.
type AccountRecord struct {
	Username   string  `json:"username"`
	ServerName string  `json:"server_name"`
	Dialect    Dialect `json:"dialect"`

	// Optional identity hints used by the correlation engine. Any of these
	// may be empty depending on what the dialect exposes.
	Email       string     `json:"email,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`

	ScanTime time.Time `json:"scan_time"`

	// Attributes holds the dialect-specific raw attributes, normalized to
	// string slices (login flag, superuser flag, group memberships, ...).
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Key returns the diff join key for this record: server name plus the
// normalized username.
func (a AccountRecord) Key() string {
	return a.ServerName + ":" + NormalizeUsername(a.Username)
}

// NormalizeUsername lower-cases and trims a username. This is the join key
// normalization used for diffing; the correlation engine applies its own,
// more aggressive normalization on top.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ServerScanResult records the outcome of scanning one server within a cycle.
// Failed servers keep their error message and contribute no accounts.
type ServerScanResult struct {
	Server       ServerDescriptor `json:"server"`
	ScanSuccess  bool             `json:"scan_success"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Accounts     []AccountRecord  `json:"accounts,omitempty"`
}

// ScanSummary aggregates per-cycle counters.
type ScanSummary struct {
	ServersScanned  int `json:"servers_scanned"`
	ServersFailed   int `json:"servers_failed"`
	TotalUsersFound int `json:"total_users_found"`
}

// Snapshot is a point-in-time capture of all accounts across all configured
// servers. A snapshot is immutable once saved; the next cycle supersedes it.
type Snapshot struct {
	ID        uuid.UUID          `json:"id"`
	ScanTime  time.Time          `json:"scan_time"`
	PerServer []ServerScanResult `json:"per_server"`

	// AllAccounts is the flattened union of the successful PerServer results.
	AllAccounts []AccountRecord `json:"all_accounts"`

	Summary ScanSummary `json:"summary"`
}

// SnapshotMeta is the lightweight history view of a stored snapshot.
type SnapshotMeta struct {
	ID       uuid.UUID   `json:"id"`
	ScanTime time.Time   `json:"scan_time"`
	Summary  ScanSummary `json:"summary"`
}

// ModifiedAccount pairs the previous and current observation of an account
// whose attributes changed between two snapshots.
type ModifiedAccount struct {
	Before AccountRecord `json:"before"`
	After  AccountRecord `json:"after"`
}

// ChangeSet is the computed difference between two consecutive snapshots.
// It is derived, consumed once by the notifier, and never persisted directly.
type ChangeSet struct {
	ScanTime  time.Time         `json:"scan_time"`
	New       []AccountRecord   `json:"new_accounts"`
	Removed   []AccountRecord   `json:"removed_accounts"`
	Modified  []ModifiedAccount `json:"modified_accounts"`
	Unchanged []AccountRecord   `json:"unchanged_accounts"`
	Summary   ScanSummary       `json:"summary"`
}

// HasChanges reports whether the change set contains anything actionable.
func (c *ChangeSet) HasChanges() bool {
	return len(c.New) > 0 || len(c.Removed) > 0 || len(c.Modified) > 0
}
