package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobTypeEscalationNotify is the job type carrying operator notifications
// for freshly queued escalations.
const JobTypeEscalationNotify = "escalation_notify"

// Job is one durable queue entry. Failed jobs are retried with exponential
// backoff until max_attempts, then parked as failed (the dead-letter state).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// LookupRecord is one row of the lookup audit log.
type LookupRecord struct {
	ID         string
	VIN        string
	Success    bool
	Requested  int
	Resolved   int
	Escalated  int
	Cached     bool
	DurationMs int64
	CreatedAt  time.Time
}
