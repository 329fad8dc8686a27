package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
)

// Task is the per-document unit of execution derived from a job. Options and
// Priority are inherited from the owning job at decomposition time.
type Task struct {
	ID          uuid.UUID            `json:"id"`
	JobID       uuid.UUID            `json:"job_id"`
	JobType     string               `json:"job_type"`
	DocumentRef string               `json:"document_ref"`
	Options     map[string]any       `json:"options,omitempty"`
	Priority    int                  `json:"priority"`
	Attempt     int                  `json:"attempt"` // executions so far
	Status      constants.TaskStatus `json:"status"`
	LastError   string               `json:"last_error,omitempty"`
	Result      []byte               `json:"result,omitempty"`
	SubmittedAt time.Time            `json:"submitted_at"`
}
