package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusExpired   JobStatus = "expired"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled, JobStatusExpired:
		return true
	}
	return false
}

// Pipeline phases, in execution order
type JobPhase string

const (
	PhasePreflight JobPhase = "preflight"
	PhaseFetch     JobPhase = "fetch"
	PhaseAnalysis  JobPhase = "analysis"
	PhaseLLM       JobPhase = "llm"
	PhaseReporting JobPhase = "reporting"
	PhaseFinal     JobPhase = "final"
)

// PhaseProgress maps each phase to the percent persisted on entry.
var PhaseProgress = map[JobPhase]int{
	PhasePreflight: 10,
	PhaseFetch:     25,
	PhaseAnalysis:  50,
	PhaseLLM:       75,
	PhaseReporting: 90,
	PhaseFinal:     100,
}

// Source types
type SourceType string

const (
	SourceInline SourceType = "inline"
	SourceURL    SourceType = "url"
	SourceGithub SourceType = "github"
)

// Audit profiles
const (
	ProfileERC20Basic = "erc20_basic_v1"
	ProfileGeneral    = "general_v1"
)
