package types

import "time"

// JobStatus is the lifecycle state of a retroactive evaluation job.
type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusRunning         JobStatus = "running"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	JobStatusFailed          JobStatus = "failed"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyFailed, JobStatusFailed:
		return true
	}
	return false
}

// JobFilters narrows the span population a retroactive job scans.
type JobFilters struct {
	AgentID      string     `json:"agent_id,omitempty"`
	AgentVersion string     `json:"agent_version,omitempty"`
	DateFrom     *time.Time `json:"date_from,omitempty"`
	DateTo       *time.Time `json:"date_to,omitempty"`
}

// JobError records one span evaluation failure inside a job. A single bad
// trace never aborts the job; it lands here instead.
type JobError struct {
	TraceID string    `json:"trace_id"`
	SpanID  string    `json:"span_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RetroactiveEvaluationJob is a bounded unit of backfill work: apply one
// metric to historical generation spans that lack a result for it. The
// record is durable so progress survives process restarts and can be polled
// before completion.
type RetroactiveEvaluationJob struct {
	ID                 string     `json:"id"`
	WorkspaceID        string     `json:"workspace_id"`
	MetricDefinitionID string     `json:"metric_definition_id"`
	Filters            JobFilters `json:"filters"`
	BatchSize          int        `json:"batch_size"`
	MaxTraces          int        `json:"max_traces"`
	SamplePercentage   int        `json:"sample_percentage"`
	Status             JobStatus  `json:"status"`
	TracesFound        int        `json:"traces_found"`
	TracesEvaluated    int        `json:"traces_evaluated"`
	Errors             []JobError `json:"errors,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}
