package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/auditforge/api/internal/client"
	"github.com/auditforge/api/internal/model"
	"github.com/auditforge/api/internal/store"
)

var (
	// ErrReportNotReady means the job has not produced a report yet.
	ErrReportNotReady = errors.New("report not ready")

	// ErrAlreadyTerminal means the job finished before the cancel arrived.
	ErrAlreadyTerminal = errors.New("job already in terminal state")
)

// JobService handles audit job management
type JobService struct {
	store     store.JobStore
	artifacts client.ArtifactStore
}

func NewJobService(st store.JobStore, artifacts client.ArtifactStore) *JobService {
	return &JobService{
		store:     st,
		artifacts: artifacts,
	}
}

// jobIDFor derives the job ID. Requests carrying an idempotency key
// map to a stable ID so retries land on the same row.
func jobIDFor(idempotencyKey string) string {
	if idempotencyKey != "" {
		sum := sha256.Sum256([]byte(idempotencyKey))
		return hex.EncodeToString(sum[:])[:16]
	}
	return uuid.New().String()
}

// Create enqueues a new audit job. When the request carries an
// idempotency key that was seen before, the existing job is returned
// unchanged.
func (s *JobService) Create(ctx context.Context, req *model.AuditRequest) (*model.CreateJobResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	id := jobIDFor(req.IdempotencyKey)
	job, err := s.store.Create(ctx, id, payload, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return &model.CreateJobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.QueuedAt,
		Links:     linksFor(job),
	}, nil
}

// GetStatus returns the current state of a job
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:  job.ID,
		Status: job.Status,
		Progress: model.ProgressInfo{
			Phase:   job.Phase,
			Percent: job.Progress,
		},
		Metrics: job.Metrics,
		Error:   job.Error,
		Links:   linksFor(job),
	}, nil
}

// Cancel requests cancellation of a job. Terminal jobs cannot be
// canceled; the worker notices the new status at its next phase
// boundary.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.CancelJobResponse, error) {
	job, err := s.store.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrAlreadyTerminal
	}

	return &model.CancelJobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		CanceledAt: job.FinishedAt,
	}, nil
}

// GetReport returns the finished report text for a succeeded job.
func (s *JobService) GetReport(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusSucceeded || job.ResultRef == nil {
		return "", ErrReportNotReady
	}
	return s.artifacts.Read(ctx, *job.ResultRef)
}

func linksFor(job *model.Job) model.JobLinks {
	links := model.JobLinks{
		Self: "/jobs/" + job.ID,
	}
	if job.Status == model.JobStatusSucceeded {
		report := "/jobs/" + job.ID + "/report"
		links.Report = &report
	}
	return links
}
