package scan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"f0oster/dbspy/scan"
)

type stubSource struct {
	mu       sync.Mutex
	accounts map[string][]scan.AccountRecord
	failing  map[string]error
	calls    []string
}

func (s *stubSource) FetchAccounts(_ context.Context, server scan.ServerDescriptor) ([]scan.AccountRecord, error) {
	s.mu.Lock()
	s.calls = append(s.calls, server.Name)
	s.mu.Unlock()
	if err, ok := s.failing[server.Name]; ok {
		return nil, err
	}
	return s.accounts[server.Name], nil
}

type memorySnapshotStore struct {
	latest  *scan.Snapshot
	saved   []*scan.Snapshot
	loadErr error
	saveErr error
}

func (m *memorySnapshotStore) LoadLatest(context.Context) (*scan.Snapshot, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.latest, nil
}

func (m *memorySnapshotStore) Save(_ context.Context, snap *scan.Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, snap)
	m.latest = snap
	return nil
}

func (m *memorySnapshotStore) History(context.Context, int) ([]scan.SnapshotMeta, error) {
	return nil, nil
}

func testServers(names ...string) []scan.ServerDescriptor {
	servers := make([]scan.ServerDescriptor, 0, len(names))
	for _, name := range names {
		servers = append(servers, scan.ServerDescriptor{Name: name, Dialect: scan.DialectPostgres})
	}
	return servers
}

func TestScan_ServerFailureIsIsolated(t *testing.T) {
	source := &stubSource{
		accounts: map[string][]scan.AccountRecord{
			"serverA": {{Username: "alice"}},
			"serverC": {{Username: "carol"}},
		},
		failing: map[string]error{"serverB": errors.New("connection refused")},
	}
	store := &memorySnapshotStore{}
	scanner := scan.NewScanner(source, store)

	changes, err := scanner.Scan(context.Background(), testServers("serverA", "serverB", "serverC"))
	if err != nil {
		t.Fatalf("scan returned error: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted snapshot, got %d", len(store.saved))
	}
	snap := store.saved[0]
	if snap.Summary.ServersScanned != 2 || snap.Summary.ServersFailed != 1 {
		t.Errorf("summary = %+v, want 2 scanned / 1 failed", snap.Summary)
	}
	if snap.Summary.TotalUsersFound != 2 {
		t.Errorf("total users = %d, want 2", snap.Summary.TotalUsersFound)
	}
	for _, result := range snap.PerServer {
		if result.Server.Name == "serverB" {
			if result.ScanSuccess || result.ErrorMessage == "" {
				t.Errorf("failed server should carry error message, got %+v", result)
			}
		}
	}
	if len(changes.New) != 2 {
		t.Errorf("first cycle should report both reachable accounts as new, got %d", len(changes.New))
	}
}

func TestScan_StampsRecordsWithServerAndScanTime(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &stubSource{
		accounts: map[string][]scan.AccountRecord{
			"serverA": {{Username: "alice"}, {Username: "bob"}},
		},
	}
	store := &memorySnapshotStore{}
	scanner := scan.NewScanner(source, store, scan.WithClock(func() time.Time { return fixed }))

	if _, err := scanner.Scan(context.Background(), testServers("serverA")); err != nil {
		t.Fatalf("scan returned error: %v", err)
	}

	for _, acct := range store.latest.AllAccounts {
		if acct.ServerName != "serverA" {
			t.Errorf("account %s missing server name stamp", acct.Username)
		}
		if !acct.ScanTime.Equal(fixed) {
			t.Errorf("account %s scan time = %v, want %v", acct.Username, acct.ScanTime, fixed)
		}
	}
	if !store.latest.ScanTime.Equal(fixed) {
		t.Errorf("snapshot scan time = %v, want %v", store.latest.ScanTime, fixed)
	}
}

func TestScan_LoadFailureAbortsWithoutPersisting(t *testing.T) {
	source := &stubSource{accounts: map[string][]scan.AccountRecord{"serverA": {{Username: "alice"}}}}
	store := &memorySnapshotStore{loadErr: errors.New("database is down")}
	scanner := scan.NewScanner(source, store)

	if _, err := scanner.Scan(context.Background(), testServers("serverA")); err == nil {
		t.Fatal("expected error when the snapshot store is unreachable")
	}
	if len(store.saved) != 0 {
		t.Error("no snapshot should be persisted when loading the baseline fails")
	}
}

func TestScan_SaveFailureAborts(t *testing.T) {
	source := &stubSource{accounts: map[string][]scan.AccountRecord{"serverA": {{Username: "alice"}}}}
	store := &memorySnapshotStore{saveErr: errors.New("disk full")}
	scanner := scan.NewScanner(source, store)

	if _, err := scanner.Scan(context.Background(), testServers("serverA")); err == nil {
		t.Fatal("expected error when saving the snapshot fails")
	}
}

func TestScan_DiffsAgainstPreviousSnapshot(t *testing.T) {
	previous := &scan.Snapshot{
		ScanTime: time.Now().Add(-time.Hour),
		AllAccounts: []scan.AccountRecord{
			{Username: "alice", ServerName: "serverA"},
			{Username: "bob", ServerName: "serverA"},
		},
	}
	source := &stubSource{
		accounts: map[string][]scan.AccountRecord{
			"serverA": {{Username: "alice"}, {Username: "eve"}},
		},
	}
	store := &memorySnapshotStore{latest: previous}
	scanner := scan.NewScanner(source, store)

	changes, err := scanner.Scan(context.Background(), testServers("serverA"))
	if err != nil {
		t.Fatalf("scan returned error: %v", err)
	}

	if len(changes.New) != 1 || changes.New[0].Username != "eve" {
		t.Errorf("new = %+v, want [eve]", changes.New)
	}
	if len(changes.Removed) != 1 || changes.Removed[0].Username != "bob" {
		t.Errorf("removed = %+v, want [bob]", changes.Removed)
	}
}

func TestScan_AllServersVisited(t *testing.T) {
	source := &stubSource{accounts: map[string][]scan.AccountRecord{}}
	store := &memorySnapshotStore{}
	scanner := scan.NewScanner(source, store, scan.WithWorkers(2))

	names := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	if _, err := scanner.Scan(context.Background(), testServers(names...)); err != nil {
		t.Fatalf("scan returned error: %v", err)
	}

	if len(source.calls) != len(names) {
		t.Errorf("fetched %d servers, want %d", len(source.calls), len(names))
	}
}
