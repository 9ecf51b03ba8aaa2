package model

import "encoding/json"

// Job represents an audit job tracked through the phase pipeline
type Job struct {
	ID             string          `json:"jobId"`
	Status         JobStatus       `json:"status"`
	Phase          JobPhase        `json:"phase"`
	Progress       int             `json:"progress"`
	QueuedAt       string          `json:"queuedAt"`
	StartedAt      *string         `json:"startedAt,omitempty"`
	FinishedAt     *string         `json:"finishedAt,omitempty"`
	IdempotencyKey *string         `json:"-"`
	WorkerID       *string         `json:"workerId,omitempty"`
	Payload        json.RawMessage `json:"-"`
	ResultRef      *string         `json:"-"`
	Error          *string         `json:"error,omitempty"`
	Metrics        *Metrics        `json:"metrics,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// Metrics holds LLM usage accounting for a job
type Metrics struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	ElapsedSec       float64 `json:"elapsedSec"`
	Model            string  `json:"model"`
	CostUSD          float64 `json:"costUsd"`
	Iterations       int     `json:"iterations,omitempty"`
	ToolsUsed        []string `json:"toolsUsed,omitempty"`
}

// SourceConfig describes where the code under audit comes from
type SourceConfig struct {
	Type       SourceType `json:"type" validate:"required,oneof=inline url github"`
	URL        string     `json:"url,omitempty" validate:"omitempty,url"`
	Ref        string     `json:"ref,omitempty"`
	InlineCode string     `json:"inlineCode,omitempty"`
}

// LLMOptions carries per-job overrides for the model call
type LLMOptions struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// AuditRequest is the job payload submitted by clients
type AuditRequest struct {
	Source         SourceConfig `json:"source" validate:"required"`
	AuditProfile   string       `json:"auditProfile" validate:"required"`
	LLM            *LLMOptions  `json:"llm,omitempty"`
	TimeoutSec     int          `json:"timeoutSec,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
}

// JobLinks provides navigation links in API responses
type JobLinks struct {
	Self   string  `json:"self"`
	Report *string `json:"report,omitempty"`
}

// CreateJobResponse is returned from POST /jobs
type CreateJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt string    `json:"createdAt"`
	Links     JobLinks  `json:"links"`
}

// ProgressInfo reports the current pipeline position
type ProgressInfo struct {
	Phase   JobPhase `json:"phase"`
	Percent int      `json:"percent"`
}

// JobStatusResponse is returned from GET /jobs/:id
type JobStatusResponse struct {
	JobID    string       `json:"jobId"`
	Status   JobStatus    `json:"status"`
	Progress ProgressInfo `json:"progress"`
	Metrics  *Metrics     `json:"metrics,omitempty"`
	Error    *string      `json:"error,omitempty"`
	Links    JobLinks     `json:"links"`
}

// CancelJobResponse is returned from POST /jobs/:id/cancel
type CancelJobResponse struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	CanceledAt *string   `json:"canceledAt,omitempty"`
}
