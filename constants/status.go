package constants

// JobStatus is the canonical status for a batch job.
type JobStatus string

// Stable values (these exact strings appear in logs and exports).
const (
	JobStatusPending   JobStatus = "PENDING"   // created, nothing dequeued yet
	JobStatusRunning   JobStatus = "RUNNING"   // at least one task dequeued
	JobStatusCompleted JobStatus = "COMPLETED" // all tasks terminal, at least one completed
	JobStatusFailed    JobStatus = "FAILED"    // all tasks terminal, none completed (or job timed out)
	JobStatusCancelled JobStatus = "CANCELLED" // cancel requested before any task finished
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TaskStatus is the canonical status for a per-document task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED" // terminal failure after retries
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// SystemState is the lifecycle state of the orchestrator itself.
type SystemState string

const (
	SystemUninitialized SystemState = "UNINITIALIZED"
	SystemInitializing  SystemState = "INITIALIZING"
	SystemRunning       SystemState = "RUNNING"
	SystemShuttingDown  SystemState = "SHUTTING_DOWN"
	SystemStopped       SystemState = "STOPPED"
)

// HealthState summarizes worker pool health for the supervision loop.
type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"  // some workers unhealthy
	HealthUnhealthy HealthState = "UNHEALTHY" // every worker unhealthy
)
