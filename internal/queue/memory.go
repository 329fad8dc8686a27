package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

// item wraps a queued task with its submission sequence number. seq gives the
// FIFO tiebreak within equal priority. A cancelled item stays in its heap and
// is discarded lazily on pop.
type item struct {
	task      *entity.Task
	seq       uint64
	readyAt   time.Time // zero for immediately ready entries
	cancelled bool
}

// readyHeap orders by priority descending, then seq ascending.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].task.Priority == h[j].task.Priority {
		return h[i].seq < h[j].seq
	}
	return h[i].task.Priority > h[j].task.Priority
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// delayedHeap orders by readyAt ascending.
type delayedHeap []*item

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// MemoryStore is the default in-process queue backend: one ready heap per job
// type plus a shared delayed heap for retry backoff entries. All operations
// are guarded by a single mutex, which also gives the exactly-one-consumer
// guarantee for Dequeue.
type MemoryStore struct {
	mu         sync.Mutex
	max        int
	seq        uint64
	ready      map[string]*readyHeap
	delayed    delayedHeap
	byJob      map[uuid.UUID]map[uuid.UUID]*item
	size       int // live (non-cancelled) entries, ready + delayed
	sizeByType map[string]int
	logger     *slog.Logger
}

// NewMemoryStore creates a bounded in-memory store. maxSize must be positive.
func NewMemoryStore(maxSize int, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		max:        maxSize,
		ready:      make(map[string]*readyHeap),
		byJob:      make(map[uuid.UUID]map[uuid.UUID]*item),
		sizeByType: make(map[string]int),
		logger:     logger,
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, task *entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+1 > s.max {
		return common.ErrQueueFull
	}
	s.add(task, time.Time{})
	return nil
}

func (s *MemoryStore) EnqueueBatch(_ context.Context, tasks []*entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size+len(tasks) > s.max {
		s.logger.Warn("queue.batch.rejected", "batch", len(tasks), "size", s.size, "max", s.max)
		return common.ErrQueueFull
	}
	for _, t := range tasks {
		s.add(t, time.Time{})
	}
	return nil
}

func (s *MemoryStore) EnqueueRetry(_ context.Context, task *entity.Task, readyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No capacity check: a retry is work the system already accepted.
	s.add(task, readyAt)
	return nil
}

// add inserts a copy of the task. Caller holds the lock.
func (s *MemoryStore) add(task *entity.Task, readyAt time.Time) {
	t := *task
	s.seq++
	it := &item{task: &t, seq: s.seq, readyAt: readyAt}

	if readyAt.IsZero() || !readyAt.After(time.Now()) {
		it.readyAt = time.Time{}
		s.pushReady(it)
	} else {
		heap.Push(&s.delayed, it)
	}

	if s.byJob[t.JobID] == nil {
		s.byJob[t.JobID] = make(map[uuid.UUID]*item)
	}
	s.byJob[t.JobID][t.ID] = it
	s.size++
	s.sizeByType[t.JobType]++
}

func (s *MemoryStore) pushReady(it *item) {
	h := s.ready[it.task.JobType]
	if h == nil {
		h = &readyHeap{}
		s.ready[it.task.JobType] = h
	}
	heap.Push(h, it)
}

// promote moves due delayed entries into their ready heaps. Caller holds the
// lock.
func (s *MemoryStore) promote(now time.Time) {
	for s.delayed.Len() > 0 {
		head := s.delayed[0]
		if head.readyAt.After(now) {
			return
		}
		heap.Pop(&s.delayed)
		if head.cancelled {
			continue
		}
		s.pushReady(head)
	}
}

func (s *MemoryStore) Dequeue(_ context.Context, jobTypes ...string) (*entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promote(time.Now())

	candidates := jobTypes
	if len(candidates) == 0 {
		candidates = make([]string, 0, len(s.ready))
		for jt := range s.ready {
			candidates = append(candidates, jt)
		}
	}

	for {
		var best *readyHeap
		for _, jt := range candidates {
			h := s.ready[jt]
			if h == nil || h.Len() == 0 {
				continue
			}
			if best == nil || (*h)[0].beats((*best)[0]) {
				best = h
			}
		}
		if best == nil {
			return nil, nil
		}
		it := heap.Pop(best).(*item)
		if it.cancelled {
			continue // discarded tombstone, already uncounted
		}
		delete(s.byJob[it.task.JobID], it.task.ID)
		if len(s.byJob[it.task.JobID]) == 0 {
			delete(s.byJob, it.task.JobID)
		}
		s.size--
		s.sizeByType[it.task.JobType]--
		return it.task, nil
	}
}

// beats reports whether a should be dequeued before b.
func (a *item) beats(b *item) bool {
	if a.task.Priority == b.task.Priority {
		return a.seq < b.seq
	}
	return a.task.Priority > b.task.Priority
}

func (s *MemoryStore) CancelJob(_ context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.byJob[jobID]
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for id, it := range entries {
		it.cancelled = true
		s.size--
		s.sizeByType[it.task.JobType]--
		ids = append(ids, id)
	}
	delete(s.byJob, jobID)
	s.logger.Info("queue.job.cancelled", "job_id", jobID, "removed", len(ids))
	return ids, nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, nil
}

func (s *MemoryStore) SizeByType(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.sizeByType))
	for jt, n := range s.sizeByType {
		if n > 0 {
			out[jt] = n
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
