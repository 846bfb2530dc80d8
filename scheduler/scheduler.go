// Package scheduler drives periodic scan cycles: a cancellable timer loop
// that can be woken early by an explicit scan-now request and that sweeps
// expired notifications on every tick.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Runner is the work a scheduler tick performs. The pipeline implements it.
type Runner interface {
	RunCycle(ctx context.Context) error
	SweepExpired(ctx context.Context) error
	LastScanTime(ctx context.Context) (time.Time, error)
}

// Status is the scheduler's externally visible state.
type Status struct {
	IsRunning     bool       `json:"is_running"`
	IntervalHours float64    `json:"interval_hours"`
	LastScanTime  *time.Time `json:"last_scan_time,omitempty"`
	NextScanDue   *time.Time `json:"next_scan_due,omitempty"`
}

// Scheduler runs cycles on a fixed interval. One cycle fully completes (or
// fails) before the next is considered; a failed cycle is retried at the
// next due time.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	runNow   chan struct{}
	now      func() time.Time

	mu          sync.Mutex
	running     bool
	lastScan    time.Time
	lastAttempt time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		runNow:   make(chan struct{}, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, driving scan cycles until the context is cancelled. The first
// cycle is due interval after the last persisted scan time, so a process
// restart does not rescan immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	if last, err := s.runner.LastScanTime(ctx); err != nil {
		log.Printf("Could not load last scan time: %v", err)
	} else {
		s.setLastScan(last)
	}

	log.Printf("Scheduler started with %s interval", s.interval)

	for {
		timer := time.NewTimer(s.untilDue())
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("Scheduler stopped")
			return ctx.Err()
		case <-s.runNow:
			timer.Stop()
		case <-timer.C:
		}

		s.tick(ctx)
	}
}

// TriggerScanNow wakes the scheduler for an immediate cycle. Duplicate
// triggers while a cycle is already queued collapse into one.
func (s *Scheduler) TriggerScanNow() {
	select {
	case s.runNow <- struct{}{}:
	default:
	}
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning:     s.running,
		IntervalHours: s.interval.Hours(),
	}
	if !s.lastScan.IsZero() {
		last := s.lastScan
		due := last.Add(s.interval)
		status.LastScanTime = &last
		status.NextScanDue = &due
	}
	return status
}

// tick sweeps expired notifications, then runs one cycle. Errors are logged
// and retried at the next due time; the previous snapshot and all pending
// notifications stay untouched.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.lastAttempt = s.now()
	s.mu.Unlock()

	if err := s.runner.SweepExpired(ctx); err != nil {
		log.Printf("Expiry sweep failed: %v", err)
	}

	if err := s.runner.RunCycle(ctx); err != nil {
		log.Printf("Scan cycle failed, retrying next tick: %v", err)
		return
	}
	s.setLastScan(s.now())
}

// untilDue waits from the last attempt, not the last success, so a failing
// store does not spin the loop.
func (s *Scheduler) untilDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.lastScan
	if s.lastAttempt.After(base) {
		base = s.lastAttempt
	}
	if base.IsZero() {
		return 0
	}
	wait := base.Add(s.interval).Sub(s.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

func (s *Scheduler) setLastScan(t time.Time) {
	s.mu.Lock()
	s.lastScan = t
	s.mu.Unlock()
}
