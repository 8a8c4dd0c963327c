package domain

import "errors"

var (
	// ErrInvalidURL is returned when a submitted URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrNoWorkerForSite is returned when no worker program is
	// registered for the URL's site key.
	ErrNoWorkerForSite = errors.New("no worker for site")
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned by the store when a job's
	// current status does not match the expected status of a
	// compare-and-set transition.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidState is returned when an operator action is not
	// applicable to the job's current status.
	ErrInvalidState = errors.New("job not in required state")
	// ErrInvalidValue is returned for out-of-range settings.
	ErrInvalidValue = errors.New("invalid value")
)
