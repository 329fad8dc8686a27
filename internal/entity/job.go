package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
)

// Job represents a batch job for data transfer between layers. The registry
// owns the mutable record; callers only ever see copies.
type Job struct {
	ID          uuid.UUID            `json:"id"`
	JobType     string               `json:"job_type"`
	Documents   []string             `json:"documents"`
	Options     map[string]any       `json:"options,omitempty"`
	Priority    int                  `json:"priority"`
	SubmittedAt time.Time            `json:"submitted_at"`
	Status      constants.JobStatus  `json:"status"`
	TotalTasks  int                  `json:"total_tasks"`
	Completed   int                  `json:"completed"`
	Failed      int                  `json:"failed"`
	Cancelled   int                  `json:"cancelled"`
	LastError   string               `json:"last_error,omitempty"`
}

// JobStatusInfo is the polling snapshot returned by the status API.
type JobStatusInfo struct {
	JobID     uuid.UUID           `json:"job_id"`
	Status    constants.JobStatus `json:"status"`
	Progress  float64             `json:"progress"` // (completed+failed)/total
	Completed int                 `json:"completed"`
	Failed    int                 `json:"failed"`
	Cancelled int                 `json:"cancelled"`
	Total     int                 `json:"total"`
	LastError string              `json:"last_error,omitempty"`
}

// DocumentResult is the per-document outcome inside JobResults.
type DocumentResult struct {
	DocumentRef string               `json:"document_ref"`
	Status      constants.TaskStatus `json:"status"`
	Attempts    int                  `json:"attempts"`
	Result      []byte               `json:"result,omitempty"` // executor payload (JSON)
	Error       string               `json:"error,omitempty"`
}

// JobResults is available once a job reaches a terminal status.
type JobResults struct {
	JobID     uuid.UUID           `json:"job_id"`
	JobType   string              `json:"job_type"`
	Status    constants.JobStatus `json:"status"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Cancelled int                 `json:"cancelled"`
	Documents []DocumentResult    `json:"documents"`
}
