package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/resizeflow/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	created := time.Now().UTC().Add(-time.Minute)
	job := domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeURL,
		SourceURL:  "https://example.com/a.png",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := s.Create(ctx, job); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	updated, err := s.UpdateStatus(ctx, job.ID, domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if updated.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", updated.Status)
	}
	if !updated.UpdatedAt.After(created) {
		t.Fatalf("expected updated_at to move forward")
	}

	result := domain.JobResult{OutputKey: "outputs/job-1/converted.webp", OutputType: "image/webp", Bytes: 42, Width: 10, Height: 5}
	done, err := s.SetResult(ctx, job.ID, domain.JobStatusSucceeded, result)
	if err != nil {
		t.Fatalf("SetResult returned error: %v", err)
	}
	if done.Result != result || done.Status != domain.JobStatusSucceeded {
		t.Fatalf("unexpected job after SetResult: %+v", done)
	}

	got, ok, err := s.Get(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("Get returned ok=%v err=%v", ok, err)
	}
	if got.Result.OutputKey != result.OutputKey {
		t.Fatalf("expected stored result, got %+v", got.Result)
	}
}

func TestMemoryJobStoreMissingJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("expected missing job, got ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.SetResult(ctx, "nope", domain.JobStatusFailed, domain.JobResult{}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStoreUsageLogs(t *testing.T) {
	s := NewMemoryJobStore()
	if err := s.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "job-1", PixelsProcessed: 100}); err != nil {
		t.Fatalf("CreateUsageLog returned error: %v", err)
	}

	logs := s.UsageLogs()
	if len(logs) != 1 {
		t.Fatalf("expected one usage log, got %d", len(logs))
	}
	if logs[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
}
