package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fetchbay/fetchd/internal/domain"
	"github.com/fetchbay/fetchd/internal/metrics"
)

// maxLogBytes caps the captured worker output stored per job; older
// output is dropped from the front.
const maxLogBytes = 64 << 10

// Supervisor owns one external worker process's lifecycle: working
// directory setup, launch, wait and result translation. The worker
// contract is fixed: one URL argument, cwd set to the per-site
// directory, exit code 0 on success. Output is captured for
// diagnostics only; the exit code alone decides the outcome.
type Supervisor struct {
	repo        domain.JobRepository
	gate        domain.Gate
	downloadDir string
	maxRun      time.Duration
	logger      *zap.Logger
}

// NewSupervisor creates a Supervisor. maxRun of zero disables the
// per-worker run deadline.
func NewSupervisor(repo domain.JobRepository, gate domain.Gate, downloadDir string, maxRun time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		repo:        repo,
		gate:        gate,
		downloadDir: downloadDir,
		maxRun:      maxRun,
		logger:      logger,
	}
}

// Run executes the worker program for an already-active job and
// records the outcome. The gate reservation for the job's site is
// released exactly once, on every path out of this method.
func (s *Supervisor) Run(ctx context.Context, job domain.Job, program string) {
	defer s.gate.Release(job.SiteKey)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	// Outcome writes must survive shutdown cancellation.
	finCtx := context.WithoutCancel(ctx)

	if program == "" {
		s.finish(finCtx, job, domain.StatusFailed,
			fmt.Sprintf("no worker program registered for site %q", job.SiteKey))
		return
	}

	workDir := filepath.Join(s.downloadDir, job.SiteKey)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		s.finish(finCtx, job, domain.StatusFailed, fmt.Sprintf("create work dir: %v", err))
		return
	}

	runCtx := ctx
	if s.maxRun > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.maxRun)
		defer cancel()
	}

	s.logger.Info("worker starting",
		zap.Int64("job_id", job.ID),
		zap.String("site", job.SiteKey),
		zap.String("program", program),
	)

	start := time.Now()
	cmd := exec.CommandContext(runCtx, program, job.URL)
	cmd.Dir = workDir
	output, err := cmd.CombinedOutput()
	metrics.ObserveWorkerDuration(job.SiteKey, time.Since(start))

	if len(output) > 0 {
		if logErr := s.repo.SetLog(finCtx, job.ID, tail(output)); logErr != nil {
			s.logger.Error("store worker log", zap.Int64("job_id", job.ID), zap.Error(logErr))
		}
	}

	switch {
	case err == nil:
		s.finish(finCtx, job, domain.StatusCompleted, "")
	case s.maxRun > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.finish(finCtx, job, domain.StatusFailed, fmt.Sprintf("timed out after %s", s.maxRun))
	case ctx.Err() != nil:
		s.finish(finCtx, job, domain.StatusFailed, "terminated by shutdown")
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.finish(finCtx, job, domain.StatusFailed,
				fmt.Sprintf("worker exited with status %d", exitErr.ExitCode()))
		} else {
			s.finish(finCtx, job, domain.StatusFailed, fmt.Sprintf("launch worker: %v", err))
		}
	}
}

func (s *Supervisor) finish(ctx context.Context, job domain.Job, status domain.JobStatus, note string) {
	if err := s.repo.Transition(ctx, job.ID, domain.StatusActive, status, note); err != nil {
		// The job may have been deleted while its worker ran; the
		// deferred gate release still frees the site.
		s.logger.Warn("record worker outcome",
			zap.Int64("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveJob(string(status))

	if status == domain.StatusCompleted {
		s.logger.Info("worker completed", zap.Int64("job_id", job.ID), zap.String("site", job.SiteKey))
	} else {
		s.logger.Warn("worker failed",
			zap.Int64("job_id", job.ID),
			zap.String("site", job.SiteKey),
			zap.String("note", note),
		)
	}
}

func tail(output []byte) string {
	if len(output) <= maxLogBytes {
		return string(output)
	}
	return string(output[len(output)-maxLogBytes:])
}
