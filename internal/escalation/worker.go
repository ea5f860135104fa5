package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// NotifyJob is a claimed operator-notification job.
type NotifyJob struct {
	ID          string
	PayloadJSON string
}

// JobStore abstracts the durable job queue and record reads the worker needs.
type JobStore interface {
	ClaimNotifyJob() (*NotifyJob, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetEscalation(id string) (Record, error)
}

// Notifier delivers new-escalation notices to a human operator.
type Notifier interface {
	Notify(ctx context.Context, records []Record) error
}

// WebhookNotifier posts escalation records as JSON to a configured endpoint
// (the ops side fans that out to email/SMS).
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier targeting url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, records []Record) error {
	body, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Worker drains escalation_notify jobs from the durable queue and delivers
// them through the Notifier. Failed deliveries are retried by the queue's
// backoff policy until the job dead-letters.
type Worker struct {
	store    JobStore
	notifier Notifier
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 2s.
func NewWorker(store JobStore, notifier Notifier, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		store:    store,
		notifier: notifier,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("notify worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

type notifyPayload struct {
	RecordIDs []string `json:"record_ids"`
}

// RunOnce claims and processes a single notification job. Returns true if a
// job was processed, regardless of delivery success.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNotifyJob()
	if err != nil {
		return false, fmt.Errorf("claiming notify job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("notification delivery failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *NotifyJob) error {
	var payload notifyPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	records := make([]Record, 0, len(payload.RecordIDs))
	for _, id := range payload.RecordIDs {
		rec, err := w.store.GetEscalation(id)
		if err != nil {
			return fmt.Errorf("loading escalation %s: %w", id, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	return w.notifier.Notify(ctx, records)
}
