package domain

import "context"

// JobRepository is the driven port for job persistence.
type JobRepository interface {
	Create(ctx context.Context, url, siteKey string) (*Job, error)
	Get(ctx context.Context, id int64) (*Job, error)
	// List returns all jobs in submission order.
	List(ctx context.Context) ([]Job, error)
	FindPending(ctx context.Context) ([]Job, error)
	// Transition moves a job from expected to next atomically,
	// returning ErrInvalidTransition when the current status does not
	// match expected and ErrJobNotFound when the id is unknown.
	Transition(ctx context.Context, id int64, expected, next JobStatus, note string) error
	SetLog(ctx context.Context, id int64, log string) error
	DeleteByStatus(ctx context.Context, status JobStatus) (int64, error)
	// DeleteExceptActive removes every job not currently active.
	DeleteExceptActive(ctx context.Context) (int64, error)
	// RecoverInterrupted fails all jobs left active by a prior run.
	RecoverInterrupted(ctx context.Context) (int64, error)
}

// SettingsRepository persists operator-adjustable settings.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Resolver maps a URL to its site key and worker program.
type Resolver interface {
	Resolve(rawURL string) (siteKey, program string, err error)
}

// Gate admits or denies worker launches against the global and
// per-site concurrency limits.
type Gate interface {
	TryReserve(siteKey string, jobID int64) bool
	Release(siteKey string)
	SetLimit(n int)
	Limit() int
	Active() int
}
