package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/glasspoint/nags/internal/escalation"
)

// EnqueueEscalationNotify queues one durable operator-notification job for a
// batch of freshly created escalation records. Satisfies
// escalation.NotifyJobQueue.
func (s *Store) EnqueueEscalationNotify(recordIDs []string) error {
	payload, err := json.Marshal(map[string][]string{"record_ids": recordIDs})
	if err != nil {
		return fmt.Errorf("marshalling notify payload: %w", err)
	}
	return s.EnqueueJob(Job{
		ID:          uuid.New().String(),
		Type:        JobTypeEscalationNotify,
		PayloadJSON: string(payload),
	})
}

// ClaimNotifyJob claims the next due notification job, if any. Satisfies
// escalation.JobStore.
func (s *Store) ClaimNotifyJob() (*escalation.NotifyJob, error) {
	job, err := s.ClaimNextJob([]string{JobTypeEscalationNotify})
	if err != nil || job == nil {
		return nil, err
	}
	return &escalation.NotifyJob{ID: job.ID, PayloadJSON: job.PayloadJSON}, nil
}
