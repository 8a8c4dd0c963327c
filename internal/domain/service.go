package domain

import (
	"context"
	"fmt"
	"strconv"
)

// settingConcurrency is the settings key holding the global worker
// limit, persisted so operator changes survive restarts.
const settingConcurrency = "concurrency"

// QueueService exposes the operations the surrounding HTTP layer
// calls: submit, list, requeue, clear and concurrency control.
type QueueService struct {
	repo     JobRepository
	settings SettingsRepository
	resolver Resolver
	gate     Gate
	notify   func()
}

// NewQueueService creates a QueueService. Register a dispatcher
// wake-up with OnChange to get notified of dispatchable changes.
func NewQueueService(repo JobRepository, settings SettingsRepository, resolver Resolver, gate Gate) *QueueService {
	return &QueueService{
		repo:     repo,
		settings: settings,
		resolver: resolver,
		gate:     gate,
		notify:   func() {},
	}
}

// OnChange registers the dispatcher wake-up callback.
func (s *QueueService) OnChange(fn func()) {
	if fn != nil {
		s.notify = fn
	}
}

// Submit resolves the URL to a site key and creates a pending job.
// Returns ErrInvalidURL or ErrNoWorkerForSite without creating a job.
func (s *QueueService) Submit(ctx context.Context, rawURL string) (*Job, error) {
	siteKey, _, err := s.resolver.Resolve(rawURL)
	if err != nil {
		return nil, err
	}
	job, err := s.repo.Create(ctx, rawURL, siteKey)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notify()
	return job, nil
}

// Get retrieves a job by ID.
func (s *QueueService) Get(ctx context.Context, id int64) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns all jobs in submission order.
func (s *QueueService) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Requeue sends a failed job back to pending. Returns ErrJobNotFound
// for unknown ids and ErrInvalidState for jobs not in failed state;
// neither changes any state.
func (s *QueueService) Requeue(ctx context.Context, id int64) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Requeueable() {
		return ErrInvalidState
	}
	if err := s.repo.Transition(ctx, id, StatusFailed, StatusPending, ""); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SetConcurrency updates and persists the global worker limit. Zero
// pauses dispatch; negative values are rejected with ErrInvalidValue.
// Running workers are never pre-empted by a decrease.
func (s *QueueService) SetConcurrency(ctx context.Context, n int) error {
	if n < 0 {
		return ErrInvalidValue
	}
	if err := s.settings.SetSetting(ctx, settingConcurrency, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("persist concurrency: %w", err)
	}
	s.gate.SetLimit(n)
	s.notify()
	return nil
}

// Concurrency returns the current global worker limit.
func (s *QueueService) Concurrency() int {
	return s.gate.Limit()
}

// RestoreConcurrency applies the persisted limit to the gate, falling
// back to def when nothing was stored yet. Called once on startup.
func (s *QueueService) RestoreConcurrency(ctx context.Context, def int) (int, error) {
	value, ok, err := s.settings.GetSetting(ctx, settingConcurrency)
	if err != nil {
		return 0, fmt.Errorf("load concurrency: %w", err)
	}
	n := def
	if ok {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return 0, fmt.Errorf("stored concurrency %q: %w", value, ErrInvalidValue)
		}
		n = parsed
	}
	s.gate.SetLimit(n)
	return n, nil
}

// ClearCompleted removes all completed jobs and returns the count.
func (s *QueueService) ClearCompleted(ctx context.Context) (int64, error) {
	return s.repo.DeleteByStatus(ctx, StatusCompleted)
}

// ClearAll removes every job except those currently active. Active
// jobs stay so their running workers keep a valid record to report
// into and the gate reservation is released on the normal path.
func (s *QueueService) ClearAll(ctx context.Context) (int64, error) {
	return s.repo.DeleteExceptActive(ctx)
}

// RecoverInterrupted fails jobs left active by a previous run. Their
// workers are no longer supervised, so they cannot complete.
func (s *QueueService) RecoverInterrupted(ctx context.Context) (int64, error) {
	return s.repo.RecoverInterrupted(ctx)
}
