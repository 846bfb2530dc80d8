package dbsource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"f0oster/dbspy/scan"
)

const (
	// pg_user covers both PostgreSQL and Redshift.
	listUsersQuery = `
		SELECT usename, usesysid, usesuper, usecreatedb, valuntil
		FROM pg_user
		ORDER BY usename`

	// pg_group membership, keyed by user sysid.
	listGroupsQuery = `
		SELECT u.usename, g.groname
		FROM pg_user u
		JOIN pg_group g ON u.usesysid = ANY(g.grolist)
		ORDER BY u.usename, g.groname`
)

// PostgresSource enumerates accounts from the pg_user catalog. One fresh
// connection per fetch: scanned servers are remote fleet members, not the
// pipeline's own database, so no pool is kept.
type PostgresSource struct {
	connect func(ctx context.Context, dsn string) (pgconn, error)
}

// pgconn is the slice of pgx.Conn the source needs; tests substitute a fake.
type pgconn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

func NewPostgresSource() *PostgresSource {
	return &PostgresSource{
		connect: func(ctx context.Context, dsn string) (pgconn, error) {
			return pgx.Connect(ctx, dsn)
		},
	}
}

func (s *PostgresSource) FetchAccounts(ctx context.Context, server scan.ServerDescriptor) ([]scan.AccountRecord, error) {
	if server.DSN == "" {
		return nil, fmt.Errorf("server %s has no DSN configured", server.Name)
	}

	conn, err := s.connect(ctx, server.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server.Name, err)
	}
	defer conn.Close(ctx)

	accounts, err := s.fetchUsers(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("list users on %s: %w", server.Name, err)
	}

	groups, err := s.fetchGroups(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("list group memberships on %s: %w", server.Name, err)
	}
	for i := range accounts {
		accounts[i].Roles = groups[accounts[i].Username]
	}

	return accounts, nil
}

func (s *PostgresSource) fetchUsers(ctx context.Context, conn pgconn) ([]scan.AccountRecord, error) {
	rows, err := conn.Query(ctx, listUsersQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []scan.AccountRecord
	for rows.Next() {
		var (
			username    string
			userID      int64
			isSuperuser bool
			canCreateDB bool
			validUntil  *time.Time
		)
		if err := rows.Scan(&username, &userID, &isSuperuser, &canCreateDB, &validUntil); err != nil {
			return nil, err
		}

		attributes := map[string][]string{
			"user_id":       {strconv.FormatInt(userID, 10)},
			"is_superuser":  {strconv.FormatBool(isSuperuser)},
			"can_create_db": {strconv.FormatBool(canCreateDB)},
		}
		if validUntil != nil {
			attributes["password_expiry"] = []string{validUntil.UTC().Format(time.RFC3339)}
		}

		accounts = append(accounts, scan.AccountRecord{
			Username:   username,
			Attributes: attributes,
		})
	}
	return accounts, rows.Err()
}

func (s *PostgresSource) fetchGroups(ctx context.Context, conn pgconn) (map[string][]string, error) {
	rows, err := conn.Query(ctx, listGroupsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var username, group string
		if err := rows.Scan(&username, &group); err != nil {
			return nil, err
		}
		groups[username] = append(groups[username], group)
	}
	for username := range groups {
		sort.Strings(groups[username])
	}
	return groups, rows.Err()
}
