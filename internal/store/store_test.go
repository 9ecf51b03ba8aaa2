package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/auditforge/api/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testPayload = json.RawMessage(`{"source":{"type":"inline","inlineCode":"contract C {}"},"auditProfile":"general_v1"}`)

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, "job-1", testPayload, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if job.Status != model.JobStatusQueued {
		t.Errorf("expected status queued, got %s", job.Status)
	}
	if job.Phase != model.PhasePreflight {
		t.Errorf("expected phase preflight, got %s", job.Phase)
	}
	if job.Progress != 0 {
		t.Errorf("expected progress 0, got %d", job.Progress)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != "job-1" {
		t.Errorf("expected job-1, got %s", got.ID)
	}
	if string(got.Payload) != string(testPayload) {
		t.Errorf("payload mismatch: %s", got.Payload)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIdempotentCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "job-a", testPayload, "key-1")
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// Same key with a different candidate id must return the original row
	second, err := s.Create(ctx, "job-b", testPayload, "key-1")
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing job %s, got %s", first.ID, second.ID)
	}

	if _, err := s.Get(ctx, "job-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("job-b should not exist, got err=%v", err)
	}
}

func TestIdempotentCreateConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Racing creates under one key must converge on a single job
	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := s.Create(ctx, fmt.Sprintf("job-%d", i), testPayload, "key-1")
			if err != nil {
				t.Errorf("create %d failed: %v", i, err)
				return
			}
			ids[i] = job.ID
		}(i)
	}
	wg.Wait()

	if ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("concurrent creates diverged: %q vs %q", ids[0], ids[1])
	}

	loser := "job-0"
	if ids[0] == "job-0" {
		loser = "job-1"
	}
	if _, err := s.Get(ctx, loser); !errors.Is(err, ErrNotFound) {
		t.Errorf("losing create must not insert a row, got err=%v", err)
	}
}

func TestFailQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "job-1", testPayload, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.FailQueued(ctx, "job-1", "dispatch error"); err != nil {
		t.Fatalf("failQueued failed: %v", err)
	}
	got, _ := s.Get(ctx, "job-1")
	if got.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "dispatch error" {
		t.Errorf("unexpected error message: %v", got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("finishedAt should be set")
	}

	// A job already claimed is left alone
	if _, err := s.Create(ctx, "job-2", testPayload, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.SetRunning(ctx, "job-2", "worker-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := s.FailQueued(ctx, "job-2", "dispatch error"); err != nil {
		t.Fatalf("failQueued failed: %v", err)
	}
	got, _ = s.Get(ctx, "job-2")
	if got.Status != model.JobStatusRunning {
		t.Errorf("running job must not be failed by the dispatcher, got %s", got.Status)
	}
}

func TestClaimRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "job-1", testPayload, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	claimed, err := s.SetRunning(ctx, "job-1", "worker-1")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("first claim should win")
	}
	if claimed.Status != model.JobStatusRunning {
		t.Errorf("expected running, got %s", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("startedAt should be set")
	}

	// A racing claim affects zero rows and must be skipped without error
	second, err := s.SetRunning(ctx, "job-1", "worker-2")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if second != nil {
		t.Fatal("second claim should lose the race")
	}

	got, _ := s.Get(ctx, "job-1")
	if got.WorkerID == nil || *got.WorkerID != "worker-1" {
		t.Errorf("worker-1 should own the job, got %v", got.WorkerID)
	}
}

func TestTerminalIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1", testPayload, "")
	s.SetRunning(ctx, "job-1", "worker-1")
	if err := s.SetTerminal(ctx, "job-1", model.JobStatusSucceeded, nil, nil); err != nil {
		t.Fatalf("terminal transition failed: %v", err)
	}

	// Phase writes against a finished job are dropped
	if err := s.SetPhase(ctx, "job-1", model.PhaseLLM, 75); err != nil {
		t.Fatalf("setPhase errored: %v", err)
	}
	got, _ := s.Get(ctx, "job-1")
	if got.Phase == model.PhaseLLM {
		t.Error("phase update should not apply to a terminal job")
	}

	// Cancel after completion is a no-op
	canceled, err := s.Cancel(ctx, "job-1")
	if err != nil {
		t.Fatalf("cancel errored: %v", err)
	}
	if canceled != nil {
		t.Error("cancel of a terminal job should return nil")
	}
	got, _ = s.Get(ctx, "job-1")
	if got.Status != model.JobStatusSucceeded {
		t.Errorf("status changed to %s", got.Status)
	}
}

func TestSetTerminalRejectsNonTerminal(t *testing.T) {
	s := newTestStore(t)

	err := s.SetTerminal(context.Background(), "job-1", model.JobStatusRunning, nil, nil)
	if err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestCancelQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1", testPayload, "")
	job, err := s.Cancel(ctx, "job-1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if job == nil || job.Status != model.JobStatusCanceled {
		t.Fatalf("expected canceled job, got %+v", job)
	}
	if job.FinishedAt == nil {
		t.Error("finishedAt should be set")
	}
}

func TestCancelMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Cancel(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListQueuedFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"job-c", "job-a", "job-b"} {
		if _, err := s.Create(ctx, id, testPayload, ""); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
		// Space out queued_at so ordering is unambiguous
		ts := base.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano)
		if _, err := s.db.Exec(`UPDATE jobs SET queued_at = ? WHERE job_id = ?`, ts, id); err != nil {
			t.Fatalf("failed to adjust queued_at: %v", err)
		}
	}

	jobs, err := s.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("listQueued failed: %v", err)
	}
	want := []string{"job-c", "job-a", "job-b"}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, j := range jobs {
		if j.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], j.ID)
		}
	}

	limited, err := s.ListQueued(ctx, 2)
	if err != nil {
		t.Fatalf("listQueued with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(limited))
	}
}

func TestExpireStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "old", testPayload, "")
	s.SetRunning(ctx, "old", "worker-1")
	s.Create(ctx, "fresh", testPayload, "")
	s.SetRunning(ctx, "fresh", "worker-2")

	// Backdate the first job beyond the timeout
	past := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`UPDATE jobs SET started_at = ? WHERE job_id = ?`, past, "old"); err != nil {
		t.Fatalf("failed to backdate: %v", err)
	}

	n, err := s.ExpireStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("expireStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired job, got %d", n)
	}

	old, _ := s.Get(ctx, "old")
	if old.Status != model.JobStatusExpired {
		t.Errorf("expected expired, got %s", old.Status)
	}
	if old.Error == nil || *old.Error != "Job expired due to timeout" {
		t.Errorf("unexpected error message: %v", old.Error)
	}

	fresh, _ := s.Get(ctx, "fresh")
	if fresh.Status != model.JobStatusRunning {
		t.Errorf("fresh job should stay running, got %s", fresh.Status)
	}
}

func TestExpireStaleBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "edge", testPayload, "")
	s.SetRunning(ctx, "edge", "worker-1")

	// A job started exactly at the cutoff is not stale; only strictly
	// older rows are reclaimed.
	exact := time.Now().UTC().Add(-time.Hour).Add(time.Minute).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`UPDATE jobs SET started_at = ? WHERE job_id = ?`, exact, "edge"); err != nil {
		t.Fatalf("failed to adjust started_at: %v", err)
	}

	n, err := s.ExpireStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("expireStale failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 expired jobs, got %d", n)
	}
}

func TestMetricsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1", testPayload, "")
	s.SetRunning(ctx, "job-1", "worker-1")

	m := &model.Metrics{Calls: 2, PromptTokens: 100, CompletionTokens: 400, Model: "dry_run"}
	if err := s.SetMetrics(ctx, "job-1", m); err != nil {
		t.Fatalf("setMetrics failed: %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Metrics == nil {
		t.Fatal("metrics not persisted")
	}
	if got.Metrics.Calls != 2 || got.Metrics.CompletionTokens != 400 {
		t.Errorf("metrics mismatch: %+v", got.Metrics)
	}
}

func TestResultRefPreservedOnTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "job-1", testPayload, "")
	s.SetRunning(ctx, "job-1", "worker-1")
	if err := s.SetResultRef(ctx, "job-1", "data/job-1/report.txt"); err != nil {
		t.Fatalf("setResultRef failed: %v", err)
	}
	if err := s.SetTerminal(ctx, "job-1", model.JobStatusSucceeded, nil, nil); err != nil {
		t.Fatalf("setTerminal failed: %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.ResultRef == nil || *got.ResultRef != "data/job-1/report.txt" {
		t.Errorf("result ref lost: %v", got.ResultRef)
	}
}
