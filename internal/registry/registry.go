package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

// ErrTaskFinished is returned when a worker reports a transition for a task
// that already reached a terminal state (lost a race with cancellation or
// recovery). The worker drops the task without reporting an outcome.
var ErrTaskFinished = errors.New("task already terminal")

type taskRecord struct {
	task *entity.Task
}

type jobRecord struct {
	job             *entity.Job
	taskIDs         []uuid.UUID
	started         bool // at least one task dequeued
	cancelRequested bool
	timedOut        bool
	done            chan struct{} // closed when the job turns terminal
}

// Registry is the in-memory record of jobs and their tasks. It is the only
// structure mutated by multiple workers concurrently; every mutation applies
// the task's transition and the job's aggregate under one lock.
//
// Job status is never assigned directly: it is recomputed from task statuses
// on every transition (the one exception is job timeout, which pins the job
// to FAILED while stragglers run to completion).
type Registry struct {
	mu         sync.RWMutex
	jobs       map[uuid.UUID]*jobRecord
	tasks      map[uuid.UUID]*taskRecord
	onTerminal func(jobType string, status constants.JobStatus)
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[uuid.UUID]*jobRecord),
		tasks:  make(map[uuid.UUID]*taskRecord),
		logger: logger,
	}
}

// OnTerminal registers a callback fired exactly once per job, at the moment
// it turns terminal. The callback runs under the registry lock and must not
// call back into the registry.
func (r *Registry) OnTerminal(fn func(jobType string, status constants.JobStatus)) {
	r.onTerminal = fn
}

// Create registers a job and its decomposed tasks atomically. No task runs
// before this returns: enqueueing happens afterwards, upstream.
func (r *Registry) Create(job *entity.Job, tasks []*entity.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return common.ErrDuplicateJob
	}

	j := *job
	j.Status = constants.JobStatusPending
	j.TotalTasks = len(tasks)
	jr := &jobRecord{job: &j, done: make(chan struct{})}

	for _, t := range tasks {
		tc := *t
		tc.Status = constants.TaskStatusQueued
		r.tasks[tc.ID] = &taskRecord{task: &tc}
		jr.taskIDs = append(jr.taskIDs, tc.ID)
	}
	r.jobs[j.ID] = jr

	r.logger.Info("registry.job.created",
		"job_id", j.ID, "job_type", j.JobType, "tasks", len(tasks), "priority", j.Priority)
	return nil
}

// Remove deletes a job that never started. It exists so a submission rejected
// by the queue store leaves no trace behind.
func (r *Registry) Remove(jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr, ok := r.jobs[jobID]
	if !ok {
		return common.ErrJobNotFound
	}
	if jr.started {
		return common.NewAppError("REMOVE_DENIED", "job has dispatched tasks", nil)
	}
	for _, tid := range jr.taskIDs {
		delete(r.tasks, tid)
	}
	delete(r.jobs, jobID)
	return nil
}

// MarkTaskRunning transitions a dequeued task to RUNNING and returns its
// attempt number (1 for the first execution). The owning job leaves PENDING
// on the first dispatch.
func (r *Registry) MarkTaskRunning(taskID uuid.UUID, workerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.tasks[taskID]
	if !ok {
		return 0, common.ErrTaskNotFound
	}
	if tr.task.Status.Terminal() {
		return 0, ErrTaskFinished
	}
	tr.task.Status = constants.TaskStatusRunning
	tr.task.Attempt++

	jr := r.jobs[tr.task.JobID]
	jr.started = true
	r.recompute(jr)

	r.logger.Debug("registry.task.running",
		"task_id", taskID, "job_id", tr.task.JobID, "attempt", tr.task.Attempt, "worker_id", workerID)
	return tr.task.Attempt, nil
}

// RecordRetry returns a failed task to QUEUED pending its delayed re-enqueue.
func (r *Registry) RecordRetry(taskID uuid.UUID, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.tasks[taskID]
	if !ok {
		return common.ErrTaskNotFound
	}
	if tr.task.Status.Terminal() {
		return ErrTaskFinished
	}
	tr.task.Status = constants.TaskStatusQueued
	tr.task.LastError = cause
	return nil
}

// CompleteTask records a successful execution. If the job was cancelled while
// the task was mid-flight the result is discarded and the task counts as
// cancelled instead.
func (r *Registry) CompleteTask(taskID uuid.UUID, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.tasks[taskID]
	if !ok {
		return common.ErrTaskNotFound
	}
	if tr.task.Status.Terminal() {
		return ErrTaskFinished
	}

	jr := r.jobs[tr.task.JobID]
	if jr.cancelRequested {
		tr.task.Status = constants.TaskStatusCancelled
	} else {
		tr.task.Status = constants.TaskStatusCompleted
		tr.task.Result = payload
		tr.task.LastError = ""
	}
	r.recompute(jr)
	return nil
}

// FailTask records a permanent task failure. A failed task never aborts its
// siblings; the failure is folded into the job's results.
func (r *Registry) FailTask(taskID uuid.UUID, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.tasks[taskID]
	if !ok {
		return common.ErrTaskNotFound
	}
	if tr.task.Status.Terminal() {
		return ErrTaskFinished
	}

	jr := r.jobs[tr.task.JobID]
	if jr.cancelRequested {
		tr.task.Status = constants.TaskStatusCancelled
	} else {
		tr.task.Status = constants.TaskStatusFailed
		tr.task.LastError = cause
		jr.job.LastError = cause
	}
	r.recompute(jr)

	r.logger.Warn("registry.task.failed", "task_id", taskID, "job_id", tr.task.JobID, "error", cause)
	return nil
}

// RequestCancel flags a job so in-flight results are discarded. Queued tasks
// are cancelled separately via CancelQueued with the IDs the queue store
// actually removed.
func (r *Registry) RequestCancel(jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr, ok := r.jobs[jobID]
	if !ok {
		return common.ErrJobNotFound
	}
	jr.cancelRequested = true
	r.recompute(jr)
	return nil
}

// CancelQueued marks the given not-yet-dispatched tasks cancelled.
func (r *Registry) CancelQueued(taskIDs []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[uuid.UUID]*jobRecord)
	for _, tid := range taskIDs {
		tr, ok := r.tasks[tid]
		if !ok || tr.task.Status != constants.TaskStatusQueued {
			continue
		}
		tr.task.Status = constants.TaskStatusCancelled
		touched[tr.task.JobID] = r.jobs[tr.task.JobID]
	}
	for _, jr := range touched {
		r.recompute(jr)
	}
}

// ExpireJob handles the global job timeout: queued tasks are cancelled and
// the job is pinned to FAILED with a timeout error. Running tasks are not
// interrupted; their outcomes still land in the task records.
func (r *Registry) ExpireJob(jobID uuid.UUID, queuedTaskIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr, ok := r.jobs[jobID]
	if !ok {
		return common.ErrJobNotFound
	}
	if jr.job.Status.Terminal() {
		return nil
	}
	for _, tid := range queuedTaskIDs {
		if tr, ok := r.tasks[tid]; ok && tr.task.Status == constants.TaskStatusQueued {
			tr.task.Status = constants.TaskStatusCancelled
		}
	}
	jr.timedOut = true
	jr.job.LastError = common.ErrJobTimeout.Error()
	r.recompute(jr)

	r.logger.Warn("registry.job.expired", "job_id", jobID)
	return nil
}

// Status returns the polling snapshot for a job.
func (r *Registry) Status(jobID uuid.UUID) (entity.JobStatusInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jr, ok := r.jobs[jobID]
	if !ok {
		return entity.JobStatusInfo{}, common.ErrJobNotFound
	}
	return r.statusLocked(jr), nil
}

func (r *Registry) statusLocked(jr *jobRecord) entity.JobStatusInfo {
	j := jr.job
	info := entity.JobStatusInfo{
		JobID:     j.ID,
		Status:    j.Status,
		Completed: j.Completed,
		Failed:    j.Failed,
		Cancelled: j.Cancelled,
		Total:     j.TotalTasks,
		LastError: j.LastError,
	}
	if j.TotalTasks > 0 {
		info.Progress = float64(j.Completed+j.Failed) / float64(j.TotalTasks)
	}
	return info
}

// Results returns the per-document outcomes, or common.ErrResultsPending
// while the job is non-terminal.
func (r *Registry) Results(jobID uuid.UUID) (*entity.JobResults, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jr, ok := r.jobs[jobID]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	if !jr.job.Status.Terminal() {
		return nil, common.ErrResultsPending
	}

	out := &entity.JobResults{
		JobID:     jr.job.ID,
		JobType:   jr.job.JobType,
		Status:    jr.job.Status,
		Succeeded: jr.job.Completed,
		Failed:    jr.job.Failed,
		Cancelled: jr.job.Cancelled,
	}
	for _, tid := range jr.taskIDs {
		t := r.tasks[tid].task
		out.Documents = append(out.Documents, entity.DocumentResult{
			DocumentRef: t.DocumentRef,
			Status:      t.Status,
			Attempts:    t.Attempt,
			Result:      t.Result,
			Error:       t.LastError,
		})
	}
	return out, nil
}

// AwaitTerminal blocks until the job reaches a terminal status or ctx ends.
// It replaces caller-side busy polling.
func (r *Registry) AwaitTerminal(ctx context.Context, jobID uuid.UUID) (entity.JobStatusInfo, error) {
	r.mu.RLock()
	jr, ok := r.jobs[jobID]
	if !ok {
		r.mu.RUnlock()
		return entity.JobStatusInfo{}, common.ErrJobNotFound
	}
	done := jr.done
	r.mu.RUnlock()

	select {
	case <-done:
		return r.Status(jobID)
	case <-ctx.Done():
		return entity.JobStatusInfo{}, ctx.Err()
	}
}

// NonTerminalJobsOlderThan returns jobs submitted before cutoff that have not
// finished. The supervision loop feeds these to the job-timeout path.
func (r *Registry) NonTerminalJobsOlderThan(cutoff time.Time) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uuid.UUID
	for id, jr := range r.jobs {
		if !jr.job.Status.Terminal() && jr.job.SubmittedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Purge drops a terminal job and its tasks from memory.
func (r *Registry) Purge(jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr, ok := r.jobs[jobID]
	if !ok {
		return common.ErrJobNotFound
	}
	if !jr.job.Status.Terminal() {
		return common.NewAppError("PURGE_DENIED", "job is not terminal", nil)
	}
	for _, tid := range jr.taskIDs {
		delete(r.tasks, tid)
	}
	delete(r.jobs, jobID)
	return nil
}

// recompute derives job status and counters from task statuses. Caller holds
// the write lock.
func (r *Registry) recompute(jr *jobRecord) {
	var completed, failed, cancelled, terminal int
	for _, tid := range jr.taskIDs {
		switch r.tasks[tid].task.Status {
		case constants.TaskStatusCompleted:
			completed++
			terminal++
		case constants.TaskStatusFailed:
			failed++
			terminal++
		case constants.TaskStatusCancelled:
			cancelled++
			terminal++
		}
	}
	jr.job.Completed = completed
	jr.job.Failed = failed
	jr.job.Cancelled = cancelled

	prev := jr.job.Status
	allTerminal := terminal == len(jr.taskIDs)
	switch {
	case jr.timedOut:
		jr.job.Status = constants.JobStatusFailed
	case allTerminal && completed == 0 && failed == 0 && cancelled > 0:
		jr.job.Status = constants.JobStatusCancelled
	case allTerminal && completed == 0 && failed > 0:
		jr.job.Status = constants.JobStatusFailed
	case allTerminal && len(jr.taskIDs) > 0:
		// Partial failure is a completed outcome with a non-zero failed
		// count; job-level FAILED is reserved for total failure.
		jr.job.Status = constants.JobStatusCompleted
	case jr.started:
		jr.job.Status = constants.JobStatusRunning
	default:
		jr.job.Status = constants.JobStatusPending
	}

	if !prev.Terminal() && jr.job.Status.Terminal() {
		close(jr.done)
		if r.onTerminal != nil {
			r.onTerminal(jr.job.JobType, jr.job.Status)
		}
		r.logger.Info("registry.job.terminal",
			"job_id", jr.job.ID,
			"status", jr.job.Status,
			"completed", completed,
			"failed", failed,
			"cancelled", cancelled,
		)
	}
}
