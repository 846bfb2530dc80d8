package scan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AccountSource fetches the accounts currently defined on one server.
// One implementation exists per dialect; the scanner treats it as opaque.
type AccountSource interface {
	FetchAccounts(ctx context.Context, server ServerDescriptor) ([]AccountRecord, error)
}

// SnapshotStore persists scan snapshots. The latest snapshot is the diff
// baseline; history is append-only.
type SnapshotStore interface {
	LoadLatest(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	History(ctx context.Context, limit int) ([]SnapshotMeta, error)
}

const (
	defaultFetchTimeout = 30 * time.Second
	defaultWorkers      = 4
)

// Scanner orchestrates one scan cycle: fetch accounts from every configured
// server concurrently, aggregate into a snapshot, diff against the previous
// snapshot and persist the new one.
type Scanner struct {
	source       AccountSource
	store        SnapshotStore
	fetchTimeout time.Duration
	workers      int
	now          func() time.Time
}

// ScannerOption customizes a Scanner.
type ScannerOption func(*Scanner)

// WithFetchTimeout bounds each per-server fetch so one unreachable server
// cannot stall the cycle.
func WithFetchTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) { s.fetchTimeout = d }
}

// WithWorkers sets the size of the fetch worker pool.
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock overrides the scan time source.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

func NewScanner(source AccountSource, store SnapshotStore, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		source:       source,
		store:        store,
		fetchTimeout: defaultFetchTimeout,
		workers:      defaultWorkers,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs one full cycle over the given servers and returns the resulting
// change set. Per-server failures are isolated: they are recorded on the
// snapshot and counted in the summary, and the cycle continues. A snapshot
// store failure aborts the cycle with nothing persisted.
func (s *Scanner) Scan(ctx context.Context, servers []ServerDescriptor) (*ChangeSet, error) {
	scanTime := s.now()
	results := s.fetchAll(ctx, servers, scanTime)

	snap := &Snapshot{
		ID:        uuid.New(),
		ScanTime:  scanTime,
		PerServer: results,
	}
	for _, result := range results {
		if result.ScanSuccess {
			snap.Summary.ServersScanned++
			snap.Summary.TotalUsersFound += len(result.Accounts)
			snap.AllAccounts = append(snap.AllAccounts, result.Accounts...)
		} else {
			snap.Summary.ServersFailed++
		}
	}

	previous, err := s.store.LoadLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load previous snapshot: %w", err)
	}

	changes := Diff(previous, snap)

	if err := s.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	log.Printf("Scan completed: %d users across %d servers (%d failed)",
		snap.Summary.TotalUsersFound, snap.Summary.ServersScanned, snap.Summary.ServersFailed)

	return changes, nil
}

// fetchAll fans the per-server fetches out over a bounded worker pool and
// waits for every fetch to return or time out before handing the results back.
func (s *Scanner) fetchAll(ctx context.Context, servers []ServerDescriptor, scanTime time.Time) []ServerScanResult {
	results := make([]ServerScanResult, len(servers))
	sem := make(chan struct{}, s.workers)

	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server ServerDescriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.fetchOne(ctx, server, scanTime)
		}(i, server)
	}
	wg.Wait()

	return results
}

func (s *Scanner) fetchOne(ctx context.Context, server ServerDescriptor, scanTime time.Time) ServerScanResult {
	result := ServerScanResult{Server: server}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	accounts, err := s.source.FetchAccounts(fetchCtx, server)
	if err != nil {
		log.Printf("Scanning server %s failed: %v", server.Name, err)
		result.ErrorMessage = err.Error()
		return result
	}

	// Stamp every record with the cycle's scan time so diff keys and
	// correlation inputs are consistent across servers.
	for i := range accounts {
		accounts[i].ServerName = server.Name
		accounts[i].Dialect = server.Dialect
		accounts[i].ScanTime = scanTime
	}

	result.ScanSuccess = true
	result.Accounts = accounts
	return result
}
