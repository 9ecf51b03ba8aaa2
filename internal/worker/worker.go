package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"

	"github.com/auditforge/api/internal/client"
	"github.com/auditforge/api/internal/llm"
	"github.com/auditforge/api/internal/model"
	"github.com/auditforge/api/internal/store"
	"github.com/auditforge/api/internal/websocket"
)

// Worker executes the audit pipeline for claimed jobs. Cancellation is
// cooperative: the job row is re-read at each phase boundary and the
// pipeline stops quietly once a terminal status is observed.
type Worker struct {
	store     store.JobStore
	gateway   *llm.Gateway
	artifacts client.ArtifactStore
	hub       *websocket.Hub
	validate  *validator.Validate
}

// New creates a job worker
func New(st store.JobStore, gateway *llm.Gateway, artifacts client.ArtifactStore, hub *websocket.Hub) *Worker {
	return &Worker{
		store:     st,
		gateway:   gateway,
		artifacts: artifacts,
		hub:       hub,
		validate:  validator.New(),
	}
}

// jobContext carries state between phases of one job.
type jobContext struct {
	job     *model.Job
	request model.AuditRequest
	code    string
	report  string
}

// ProcessJob runs the full pipeline for a job that has already been
// claimed (status running).
func (w *Worker) ProcessJob(ctx context.Context, job *model.Job) {
	workerID := "unknown"
	if job.WorkerID != nil {
		workerID = *job.WorkerID
	}
	log.Printf("Worker %s processing job %s", workerID, job.ID)

	jc := &jobContext{job: job}

	phases := []struct {
		phase model.JobPhase
		run   func(context.Context, *jobContext) error
	}{
		{model.PhasePreflight, w.preflight},
		{model.PhaseFetch, w.fetch},
		{model.PhaseAnalysis, w.analysis},
		{model.PhaseLLM, w.llmPhase},
		{model.PhaseReporting, w.reporting},
		{model.PhaseFinal, w.final},
	}

	for _, p := range phases {
		if w.canceled(ctx, job.ID) {
			log.Printf("Job %s: canceled, stopping before %s phase", job.ID, p.phase)
			return
		}
		if err := w.enterPhase(ctx, job.ID, p.phase); err != nil {
			w.fail(ctx, job.ID, fmt.Sprintf("failed to enter %s phase: %v", p.phase, err))
			return
		}
		if err := p.run(ctx, jc); err != nil {
			log.Printf("Job %s: %s phase failed: %v", job.ID, p.phase, err)
			w.fail(ctx, job.ID, err.Error())
			return
		}
		log.Printf("Job %s: %s phase completed", job.ID, p.phase)
	}
}

// canceled re-reads the job row and reports whether it reached a
// terminal status out from under the worker.
func (w *Worker) canceled(ctx context.Context, jobID string) bool {
	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		log.Printf("Job %s: cancel check failed: %v", jobID, err)
		return false
	}
	return job.Terminal()
}

func (w *Worker) enterPhase(ctx context.Context, jobID string, phase model.JobPhase) error {
	percent := model.PhaseProgress[phase]
	if err := w.store.SetPhase(ctx, jobID, phase, percent); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, model.JobStatusRunning, phase, percent)
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID, errMsg string) {
	if err := w.store.SetTerminal(ctx, jobID, model.JobStatusFailed, nil, &errMsg); err != nil {
		log.Printf("Job %s: failed to mark failed: %v", jobID, err)
		return
	}
	w.hub.BroadcastError(jobID, "JOB_FAILED", errMsg)
}

func (w *Worker) preflight(ctx context.Context, jc *jobContext) error {
	if err := json.Unmarshal(jc.job.Payload, &jc.request); err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}
	if err := w.validate.Struct(&jc.request); err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}
	return nil
}

func (w *Worker) fetch(ctx context.Context, jc *jobContext) error {
	code, err := fetchSource(jc.request.Source)
	if err != nil {
		return err
	}
	jc.code = code
	log.Printf("Job %s: fetched %d characters of source", jc.job.ID, len(code))
	return nil
}

// analysis is a static pre-pass before the model call. Currently only
// sanity-checks that there is code to analyze.
func (w *Worker) analysis(ctx context.Context, jc *jobContext) error {
	if jc.code == "" {
		return fmt.Errorf("no source code to analyze")
	}
	return nil
}

func (w *Worker) llmPhase(ctx context.Context, jc *jobContext) error {
	report, metrics, err := w.gateway.Analyze(ctx, jc.code, jc.request.AuditProfile, jc.job.ID, jc.job.Payload)
	if err != nil {
		return err
	}
	jc.report = report
	if err := w.store.SetMetrics(ctx, jc.job.ID, metrics); err != nil {
		return err
	}
	return nil
}

func (w *Worker) reporting(ctx context.Context, jc *jobContext) error {
	ref, err := w.artifacts.Write(ctx, jc.job.ID, jc.report)
	if err != nil {
		return err
	}
	return w.store.SetResultRef(ctx, jc.job.ID, ref)
}

func (w *Worker) final(ctx context.Context, jc *jobContext) error {
	if err := w.store.SetTerminal(ctx, jc.job.ID, model.JobStatusSucceeded, nil, nil); err != nil {
		return err
	}
	w.hub.BroadcastComplete(jc.job.ID, fmt.Sprintf("/jobs/%s/report", jc.job.ID))
	log.Printf("Job %s succeeded", jc.job.ID)
	return nil
}

// fetchSource resolves the code under audit. Remote sources are not
// fetched over the network yet and resolve to a placeholder.
func fetchSource(source model.SourceConfig) (string, error) {
	switch source.Type {
	case model.SourceInline:
		return source.InlineCode, nil
	case model.SourceURL:
		return fmt.Sprintf("// Source code from URL: %s\n// This is a placeholder for fetched code", source.URL), nil
	case model.SourceGithub:
		ref := source.Ref
		if ref == "" {
			ref = "main"
		}
		return fmt.Sprintf("// Source code from GitHub: %s (ref: %s)\n// This is a placeholder for fetched code", source.URL, ref), nil
	default:
		return "", fmt.Errorf("unsupported source type: %s", source.Type)
	}
}
