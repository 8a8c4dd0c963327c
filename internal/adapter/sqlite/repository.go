package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fetchbay/fetchd/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    url          TEXT NOT NULL,
    site_key     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    note         TEXT,
    log          TEXT,
    submitted_at DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Repository implements domain.JobRepository and
// domain.SettingsRepository using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if
// needed. WAL mode keeps readers from blocking on the dispatcher's
// and supervisors' concurrent writes.
func New(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA busy_timeout=30000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

const jobColumns = `id, url, site_key, status, COALESCE(note, ''), COALESCE(log, ''), submitted_at, started_at, finished_at`

// Create inserts a new pending job.
func (r *Repository) Create(ctx context.Context, url, siteKey string) (*domain.Job, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (url, site_key, status, submitted_at) VALUES (?, ?, ?, ?)`,
		url, siteKey, domain.StatusPending, now,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &domain.Job{
		ID:          id,
		URL:         url,
		SiteKey:     siteKey,
		Status:      domain.StatusPending,
		SubmittedAt: now,
	}, nil
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// List returns all jobs in submission order.
func (r *Repository) List(ctx context.Context) ([]domain.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
}

// FindPending returns pending jobs in submission order.
func (r *Repository) FindPending(ctx context.Context) ([]domain.Job, error) {
	return r.query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY id ASC`,
		domain.StatusPending,
	)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Transition atomically moves a job from expected to next. The
// WHERE status=? clause is the compare-and-set that prevents double
// dispatch and double completion; losing it returns
// ErrInvalidTransition (or ErrJobNotFound for unknown ids).
func (r *Repository) Transition(ctx context.Context, id int64, expected, next domain.JobStatus, note string) error {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	switch next {
	case domain.StatusActive:
		result, err = r.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, note = '', started_at = ? WHERE id = ? AND status = ?`,
			next, now, id, expected,
		)
	case domain.StatusCompleted, domain.StatusFailed:
		result, err = r.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, note = ?, finished_at = ? WHERE id = ? AND status = ?`,
			next, note, now, id, expected,
		)
	case domain.StatusPending:
		// Requeue: wipe the previous run's traces.
		result, err = r.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, note = '', log = '', started_at = NULL, finished_at = NULL
			 WHERE id = ? AND status = ?`,
			next, id, expected,
		)
	default:
		return fmt.Errorf("status %q: %w", next, domain.ErrInvalidTransition)
	}
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetLog stores the captured worker output for a job.
func (r *Repository) SetLog(ctx context.Context, id int64, log string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET log = ? WHERE id = ?`, log, id,
	)
	return err
}

// DeleteByStatus removes all jobs with the given status.
func (r *Repository) DeleteByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = ?`, status,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExceptActive removes every job not currently active. Active
// jobs are kept so running workers still have a record to report to.
func (r *Repository) DeleteExceptActive(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status != ?`, domain.StatusActive,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecoverInterrupted fails all jobs left active by a prior run. Their
// worker processes died with the old process and can never report.
func (r *Repository) RecoverInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, note = 'interrupted by restart', finished_at = ?
		 WHERE status = ?`,
		domain.StatusFailed, time.Now().UTC(), domain.StatusActive,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetSetting returns the stored value for key, reporting presence.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts a settings value.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var started, finished sql.NullTime
	err := row.Scan(&job.ID, &job.URL, &job.SiteKey, &status, &job.Note, &job.Log,
		&job.SubmittedAt, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}
