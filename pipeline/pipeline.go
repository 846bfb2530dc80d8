// Package pipeline wires one scan cycle end to end: scanner, diff,
// correlation and notification creation run as a single unit so a cycle
// either produces a full change set with its notifications or nothing.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"f0oster/dbspy/notify"
	"f0oster/dbspy/scan"
)

// Pipeline runs scan cycles against a fixed server fleet and feeds the
// resulting change sets to the notifier. One cycle runs at a time.
type Pipeline struct {
	scanner  *scan.Scanner
	notifier *notify.Notifier
	store    scan.SnapshotStore
	servers  []scan.ServerDescriptor

	mu          sync.Mutex
	lastChanges *scan.ChangeSet
}

func New(scanner *scan.Scanner, notifier *notify.Notifier, store scan.SnapshotStore, servers []scan.ServerDescriptor) *Pipeline {
	return &Pipeline{
		scanner:  scanner,
		notifier: notifier,
		store:    store,
		servers:  servers,
	}
}

// RunCycle performs one scan of the whole fleet and creates notifications
// for every detected change. The change set is retained for API consumers.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	changes, err := p.scanner.Scan(ctx, p.servers)
	if err != nil {
		return fmt.Errorf("scan cycle: %w", err)
	}

	if changes.HasChanges() {
		if err := p.notifier.ProcessChangeSet(ctx, changes); err != nil {
			return fmt.Errorf("process change set: %w", err)
		}
	}

	p.lastChanges = changes
	return nil
}

// SweepExpired runs the notifier's expiry sweep.
func (p *Pipeline) SweepExpired(ctx context.Context) error {
	_, err := p.notifier.ExpireStale(ctx)
	return err
}

// LastScanTime reports when the fleet was last scanned, from the durable
// snapshot history, so a restart does not trigger an immediate rescan.
func (p *Pipeline) LastScanTime(ctx context.Context) (time.Time, error) {
	latest, err := p.store.LoadLatest(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return latest.ScanTime, nil
}

// LatestChangeSet returns the change set produced by the most recent cycle
// of this process, or nil before the first cycle completes.
func (p *Pipeline) LatestChangeSet() *scan.ChangeSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastChanges
}

// Notifier exposes the notification entry points to API consumers.
func (p *Pipeline) Notifier() *notify.Notifier {
	return p.notifier
}

// SnapshotHistory lists recent snapshot metadata, newest first.
func (p *Pipeline) SnapshotHistory(ctx context.Context, limit int) ([]scan.SnapshotMeta, error) {
	return p.store.History(ctx, limit)
}
