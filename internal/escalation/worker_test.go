package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glasspoint/nags/internal/glass"
)

type fakeJobStore struct {
	job       *NotifyJob
	records   map[string]Record
	completed []string
	failed    []string
	claimErr  error
}

func (f *fakeJobStore) ClaimNotifyJob() (*NotifyJob, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	j := f.job
	f.job = nil
	return j, nil
}

func (f *fakeJobStore) CompleteJob(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) FailJob(id, errMsg string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeJobStore) GetEscalation(id string) (Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, errors.New("not found")
	}
	return rec, nil
}

type fakeNotifier struct {
	got []Record
	err error
}

func (f *fakeNotifier) Notify(ctx context.Context, records []Record) error {
	f.got = records
	return f.err
}

func notifyJob(t *testing.T, ids ...string) *NotifyJob {
	t.Helper()
	payload, err := json.Marshal(map[string][]string{"record_ids": ids})
	if err != nil {
		t.Fatal(err)
	}
	return &NotifyJob{ID: "job-1", PayloadJSON: string(payload)}
}

func TestWorkerDelivers(t *testing.T) {
	store := &fakeJobStore{
		job: notifyJob(t, "rec-1", "rec-2"),
		records: map[string]Record{
			"rec-1": {ID: "rec-1", VIN: testVehicle.VIN, Position: glass.Windshield},
			"rec-2": {ID: "rec-2", VIN: testVehicle.VIN, Position: glass.RearWindshield},
		},
	}
	notifier := &fakeNotifier{}

	w := NewWorker(store, notifier, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce = false, want true")
	}
	if len(notifier.got) != 2 {
		t.Errorf("delivered %d records, want 2", len(notifier.got))
	}
	if len(store.completed) != 1 || store.completed[0] != "job-1" {
		t.Errorf("completed = %v, want [job-1]", store.completed)
	}
}

func TestWorkerDeliveryFailureFailsJob(t *testing.T) {
	store := &fakeJobStore{
		job: notifyJob(t, "rec-1"),
		records: map[string]Record{
			"rec-1": {ID: "rec-1"},
		},
	}

	w := NewWorker(store, &fakeNotifier{err: errors.New("webhook 500")}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce = false, want true")
	}
	if len(store.failed) != 1 {
		t.Errorf("failed = %v, want [job-1]", store.failed)
	}
	if len(store.completed) != 0 {
		t.Errorf("completed = %v, want empty", store.completed)
	}
}

func TestWorkerNoJob(t *testing.T) {
	w := NewWorker(&fakeJobStore{}, &fakeNotifier{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce = true with empty queue, want false")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got struct {
		Records []Record `json:"records"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), []Record{{ID: "rec-1", VIN: testVehicle.VIN}})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(got.Records) != 1 || got.Records[0].ID != "rec-1" {
		t.Errorf("webhook received %+v", got)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), []Record{{ID: "x"}}); err == nil {
		t.Error("Notify succeeded on 502, want error")
	}
}
