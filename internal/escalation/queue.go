// Package escalation durably records glass positions that survived every
// automated tier, handing them off to human research. It is the terminal
// tier: nothing here fails for business reasons, only when storage is down.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/vin"
)

// Urgency grades how quickly a human should pick up a record.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// Valid reports whether u is a known urgency grade.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

// StatusPending marks a record awaiting human research. Later statuses are
// written by the research workflow, never by this package.
const StatusPending = "pending"

// Attempt summarizes one tier invocation for the record's audit trail.
type Attempt struct {
	Tier       string `json:"tier"`
	Success    bool   `json:"success"`
	Parts      int    `json:"parts"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Record is one escalated position. One record per unresolved position, not
// per VIN. Created here, mutated only by the research workflow.
type Record struct {
	ID            string         `json:"id"`
	VIN           string         `json:"vin"`
	Position      glass.Position `json:"position"`
	Year          int            `json:"year"`
	Make          string         `json:"make"`
	Model         string         `json:"model"`
	TransactionID string         `json:"transaction_id,omitempty"`
	CustomerName  string         `json:"customer_name,omitempty"`
	CustomerPhone string         `json:"customer_phone,omitempty"`
	Urgency       Urgency        `json:"urgency"`
	AttemptLog    string         `json:"attempt_log"` // JSON array of Attempt
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Request covers every still-unresolved position of one lookup.
type Request struct {
	Vehicle       vin.Identity
	Positions     []glass.Position
	TransactionID string
	CustomerName  string
	CustomerPhone string
	Urgency       Urgency
	Attempts      []Attempt
}

// Store persists escalation records. Append-only from this package's point
// of view.
type Store interface {
	SaveEscalation(rec Record) error
}

// NotifyJobQueue enqueues durable operator-notification jobs. Optional;
// delivery runs on a separate schedule with its own retry policy.
type NotifyJobQueue interface {
	EnqueueEscalationNotify(recordIDs []string) error
}

// Queue writes one pending Record per unresolved position.
type Queue struct {
	store  Store
	notify NotifyJobQueue
	logger *slog.Logger
}

// NewQueue creates a Queue. notify may be nil when operator notification is
// not configured.
func NewQueue(store Store, notify NotifyJobQueue) *Queue {
	return &Queue{store: store, notify: notify, logger: slog.Default()}
}

// QueueForResearch persists one pending record per position in req and
// returns the new record IDs. Only a storage failure is returned as an
// error; notification enqueue failures are logged and swallowed so the
// durable records are never lost over a side channel.
func (q *Queue) QueueForResearch(ctx context.Context, req Request) ([]string, error) {
	urgency := req.Urgency
	if !urgency.Valid() {
		urgency = UrgencyNormal
	}

	attemptLog := "[]"
	if len(req.Attempts) > 0 {
		b, err := json.Marshal(req.Attempts)
		if err != nil {
			return nil, fmt.Errorf("marshalling attempt log: %w", err)
		}
		attemptLog = string(b)
	}

	ids := make([]string, 0, len(req.Positions))
	for _, pos := range req.Positions {
		rec := Record{
			ID:            uuid.New().String(),
			VIN:           req.Vehicle.VIN,
			Position:      pos,
			Year:          req.Vehicle.Year,
			Make:          req.Vehicle.Make,
			Model:         req.Vehicle.Model,
			TransactionID: req.TransactionID,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			Urgency:       urgency,
			AttemptLog:    attemptLog,
			Status:        StatusPending,
			CreatedAt:     time.Now().UTC(),
		}
		if err := q.store.SaveEscalation(rec); err != nil {
			return ids, fmt.Errorf("saving escalation for %s/%s: %w", req.Vehicle.VIN, pos, err)
		}
		ids = append(ids, rec.ID)
		q.logger.Info("position escalated for human research",
			"vin", req.Vehicle.VIN, "position", pos, "urgency", urgency, "record_id", rec.ID)
	}

	if q.notify != nil && len(ids) > 0 {
		if err := q.notify.EnqueueEscalationNotify(ids); err != nil {
			q.logger.Warn("failed to enqueue escalation notification", "error", err)
		}
	}
	return ids, nil
}
