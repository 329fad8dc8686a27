package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/internal/entity"
)

// Store holds pending tasks ordered by (priority descending, submission
// order ascending). It is the system's backpressure point: enqueue is
// rejected once MaxQueueSize live entries are held.
//
// Implementations must guarantee that a dequeued task is visible to exactly
// one caller, even under concurrent Dequeue calls.
type Store interface {
	// Enqueue adds a single ready task. Returns common.ErrQueueFull at
	// capacity.
	Enqueue(ctx context.Context, task *entity.Task) error

	// EnqueueBatch adds all tasks or none of them, so a rejected
	// submission leaves no partial state behind.
	EnqueueBatch(ctx context.Context, tasks []*entity.Task) error

	// EnqueueRetry re-queues a task that becomes ready at readyAt (retry
	// backoff). Retries are admitted even at capacity: backpressure
	// applies to new submissions, never to work already accepted.
	EnqueueRetry(ctx context.Context, task *entity.Task, readyAt time.Time) error

	// Dequeue removes and returns the highest-priority ready task,
	// optionally restricted to the given job types. Ties break by
	// earliest submission. Returns (nil, nil) when nothing is ready.
	// Priority is decided here only: a task already handed to a worker
	// is never preempted by a later higher-priority submission.
	Dequeue(ctx context.Context, jobTypes ...string) (*entity.Task, error)

	// CancelJob removes all not-yet-dequeued tasks of the job (ready and
	// delayed) and returns their IDs. Tasks already handed to a worker
	// are unaffected.
	CancelJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)

	Size(ctx context.Context) (int, error)
	SizeByType(ctx context.Context) (map[string]int, error)

	Close() error
}
