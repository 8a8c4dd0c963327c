package domain

import "time"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents one queued download request. ID, URL and SiteKey are
// immutable after creation; only Status, Note, Log and the run
// timestamps change over the job's life.
type Job struct {
	ID          int64
	URL         string
	SiteKey     string
	Status      JobStatus
	Note        string
	Log         string
	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// Requeueable reports whether the job may be sent back to pending.
// Only failed jobs qualify; every other transition is forward-only.
func (j *Job) Requeueable() bool {
	return j.Status == StatusFailed
}
