package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
)

// WorkerInfo is a point-in-time view of a pool worker.
type WorkerInfo struct {
	ID            string     `json:"id"`
	JobTypes      []string   `json:"job_types,omitempty"` // empty = any type
	CurrentTask   *uuid.UUID `json:"current_task,omitempty"`
	Completed     uint64     `json:"completed"`
	Errored       uint64     `json:"errored"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// HealthStatus is the supervision snapshot for the worker pool.
type HealthStatus struct {
	State              constants.HealthState `json:"state"`
	TotalWorkers       int                   `json:"total_workers"`
	UnhealthyWorkerIDs []string              `json:"unhealthy_worker_ids,omitempty"`
}

// TypeMetrics breaks pool metrics down per job type.
type TypeMetrics struct {
	Workers    int    `json:"workers"`
	Completed  uint64 `json:"completed"`
	Errored    uint64 `json:"errored"`
	QueueDepth int    `json:"queue_depth"`
}

// PerformanceMetrics is the aggregate snapshot returned by the metrics API.
// CPU and memory figures are best-effort process-level readings.
type PerformanceMetrics struct {
	TotalWorkers    int                    `json:"total_workers"`
	TasksCompleted  uint64                 `json:"tasks_completed"`
	TasksErrored    uint64                 `json:"tasks_errored"`
	QueueDepth      int                    `json:"queue_depth"`
	Goroutines      int                    `json:"goroutines"`
	HeapAllocBytes  uint64                 `json:"heap_alloc_bytes"`
	Uptime          time.Duration          `json:"uptime"`
	ByType          map[string]TypeMetrics `json:"by_type,omitempty"`
}
