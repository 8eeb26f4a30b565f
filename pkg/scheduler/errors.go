package scheduler

import "errors"

var (
	ErrInvalidSchedule        = errors.New("invalid schedule")
	ErrJobAlreadyRegistered   = errors.New("job already registered")
	ErrSchedulerNotConfigured = errors.New("scheduler has no jobs")
)
