// Package worker contains the scheduling loop and the external
// process supervisor.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fetchbay/fetchd/internal/domain"
	"github.com/fetchbay/fetchd/internal/metrics"
)

// Registry resolves a site key to its worker program at dispatch
// time, so script directory rescans apply to queued jobs.
type Registry interface {
	Lookup(siteKey string) (program string, ok bool)
}

// Dispatcher repeatedly scans pending jobs in submission order,
// reserves gate capacity and hands admitted jobs to supervisors. It
// never blocks on a running worker.
type Dispatcher struct {
	repo     domain.JobRepository
	gate     domain.Gate
	registry Registry
	sup      *Supervisor
	interval time.Duration
	wake     chan struct{}
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher polling on the given interval.
func NewDispatcher(repo domain.JobRepository, gate domain.Gate, registry Registry, sup *Supervisor, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		repo:     repo,
		gate:     gate,
		registry: registry,
		sup:      sup,
		interval: interval,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Wake requests an immediate dispatch pass. Safe to call from any
// goroutine; coalesces with an already-pending wake-up.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives dispatch passes until the context is cancelled: on a
// fixed interval, and immediately on submissions, requeues, limit
// changes and worker completions. On cancellation it waits for
// in-flight supervisors to record their outcomes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Duration("interval", d.interval))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shutting down")
			d.wg.Wait()
			return
		case <-ticker.C:
			d.pass(ctx)
		case <-d.wake:
			d.pass(ctx)
		}
	}
}

// pass is one scheduling iteration. A site at capacity only skips its
// own jobs; later pending jobs for other sites are still considered.
func (d *Dispatcher) pass(ctx context.Context) {
	metrics.ObserveDispatchPass()

	jobs, err := d.repo.FindPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("list pending jobs", zap.Error(err))
		}
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if !d.gate.TryReserve(job.SiteKey, job.ID) {
			continue
		}
		if err := d.repo.Transition(ctx, job.ID, domain.StatusPending, domain.StatusActive, ""); err != nil {
			// Lost the claim race or the job vanished; give the slot back.
			d.gate.Release(job.SiteKey)
			if !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, domain.ErrJobNotFound) {
				d.logger.Error("claim job", zap.Int64("job_id", job.ID), zap.Error(err))
			}
			continue
		}

		program, ok := d.registry.Lookup(job.SiteKey)
		if !ok {
			// The script disappeared since submission; the supervisor
			// records the failure through its normal path.
			program = ""
		}

		d.logger.Info("job dispatched",
			zap.Int64("job_id", job.ID),
			zap.String("site", job.SiteKey),
			zap.String("url", job.URL),
		)

		d.wg.Add(1)
		go func(job domain.Job, program string) {
			defer d.wg.Done()
			d.sup.Run(ctx, job, program)
			d.Wake()
		}(job, program)
	}
}
