package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-backend/internal/jobs"
)

func TestPublishCoalescesPerUser(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	job := &jobs.AnalysisJob{Type: jobs.JobTypeDetectRecurring, UserID: "u1"}
	if err := q.PublishAnalysis(context.Background(), job); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	dup := &jobs.AnalysisJob{Type: jobs.JobTypeDetectRecurring, UserID: "u1"}
	if err := q.PublishAnalysis(context.Background(), dup); !errors.Is(err, jobs.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued for same user and type, got %v", err)
	}

	other := &jobs.AnalysisJob{Type: jobs.JobTypeGenerateInsights, UserID: "u1"}
	if err := q.PublishAnalysis(context.Background(), other); err != nil {
		t.Errorf("different job type should not coalesce: %v", err)
	}

	otherUser := &jobs.AnalysisJob{Type: jobs.JobTypeDetectRecurring, UserID: "u2"}
	if err := q.PublishAnalysis(context.Background(), otherUser); err != nil {
		t.Errorf("different user should not coalesce: %v", err)
	}

	for _, doc := range []string{"doc-1", "doc-2"} {
		ingest := &jobs.AnalysisJob{Type: jobs.JobTypeIngestStatement, UserID: "u1", DocumentID: doc}
		if err := q.PublishAnalysis(context.Background(), ingest); err != nil {
			t.Errorf("ingest job for %s should not coalesce: %v", doc, err)
		}
	}
}

func TestQueueProcessesJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	processed := map[string]bool{}
	done := make(chan struct{}, 2)

	handler := func(_ context.Context, job *jobs.AnalysisJob) error {
		mu.Lock()
		processed[job.UserID] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, user := range []string{"u1", "u2"} {
		job := &jobs.AnalysisJob{Type: jobs.JobTypeDetectRecurring, UserID: user}
		if err := q.PublishAnalysis(context.Background(), job); err != nil {
			t.Fatalf("publish %s: %v", user, err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !processed["u1"] || !processed["u2"] {
		t.Errorf("processed = %v", processed)
	}
}

func TestQueueRetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var mu sync.Mutex
	attempts := 0
	finished := make(chan struct{})

	handler := func(_ context.Context, job *jobs.AnalysisJob) error {
		mu.Lock()
		attempts++
		last := job.RetryCount >= job.MaxRetries
		mu.Unlock()
		if last {
			close(finished)
		}
		return errors.New("boom")
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.AnalysisJob{Type: jobs.JobTypeDetectRecurring, UserID: "u1"}
	if err := q.PublishAnalysis(context.Background(), job); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for retries to exhaust")
	}

	// Give the final status write a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := store.GetJob(context.Background(), job.JobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if stored.Status == jobs.JobStatusFailed {
			if stored.RetryCount != jobs.DefaultMaxRetries {
				t.Errorf("retry count = %d, want %d", stored.RetryCount, jobs.DefaultMaxRetries)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached failed status, last status %q", stored.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != jobs.DefaultMaxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, jobs.DefaultMaxRetries+1)
	}
}
