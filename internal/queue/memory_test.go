package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

func newTask(jobID uuid.UUID, jobType string, priority int) *entity.Task {
	return &entity.Task{
		ID:          uuid.New(),
		JobID:       jobID,
		JobType:     jobType,
		DocumentRef: "/docs/" + uuid.NewString() + ".pdf",
		Priority:    priority,
		Status:      constants.TaskStatusQueued,
		SubmittedAt: time.Now(),
	}
}

func TestMemoryStoreDequeueOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100, nil)
	jobID := uuid.New()

	a := newTask(jobID, "ocr", 5)
	b := newTask(jobID, "ocr", 1)
	c := newTask(jobID, "ocr", 5)
	d := newTask(jobID, "ocr", 3)
	for _, task := range []*entity.Task{a, b, c, d} {
		require.NoError(t, store.Enqueue(ctx, task))
	}

	// Priority descending, FIFO within equal priority.
	want := []uuid.UUID{a.ID, c.ID, d.ID, b.ID}
	for i, expected := range want {
		got, err := store.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, got, "dequeue %d", i)
		assert.Equal(t, expected, got.ID, "dequeue %d", i)
	}

	got, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreDequeueByType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100, nil)
	jobID := uuid.New()

	ocr := newTask(jobID, "ocr", 5)
	nlp := newTask(jobID, "nlp", 10)
	require.NoError(t, store.Enqueue(ctx, ocr))
	require.NoError(t, store.Enqueue(ctx, nlp))

	got, err := store.Dequeue(ctx, "ocr")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ocr.ID, got.ID)

	// Unrestricted dequeue picks the highest priority across types.
	got, err = store.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, nlp.ID, got.ID)
}

func TestMemoryStoreBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, nil)
	jobID := uuid.New()

	batch := []*entity.Task{
		newTask(jobID, "ocr", 0),
		newTask(jobID, "ocr", 0),
		newTask(jobID, "ocr", 0),
	}
	err := store.EnqueueBatch(ctx, batch)
	assert.ErrorIs(t, err, common.ErrQueueFull)

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size, "rejected batch must leave no partial state")

	require.NoError(t, store.EnqueueBatch(ctx, batch[:2]))
	assert.ErrorIs(t, store.Enqueue(ctx, newTask(jobID, "ocr", 0)), common.ErrQueueFull)
}

func TestMemoryStoreRetryBypassesCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1, nil)
	jobID := uuid.New()

	require.NoError(t, store.Enqueue(ctx, newTask(jobID, "ocr", 0)))
	// At capacity, but a retry is already-accepted work.
	require.NoError(t, store.EnqueueRetry(ctx, newTask(jobID, "ocr", 0), time.Now()))

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestMemoryStoreDelayedPromotion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, nil)
	jobID := uuid.New()

	task := newTask(jobID, "ocr", 0)
	require.NoError(t, store.EnqueueRetry(ctx, task, time.Now().Add(40*time.Millisecond)))

	got, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "delayed entry must not be dequeued before readyAt")

	time.Sleep(60 * time.Millisecond)
	got, err = store.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestMemoryStoreCancelJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, nil)
	victim := uuid.New()
	other := uuid.New()

	v1 := newTask(victim, "ocr", 5)
	v2 := newTask(victim, "ocr", 5)
	keep := newTask(other, "ocr", 1)
	require.NoError(t, store.Enqueue(ctx, v1))
	require.NoError(t, store.Enqueue(ctx, v2))
	require.NoError(t, store.Enqueue(ctx, keep))
	// Delayed entries are removed too.
	v3 := newTask(victim, "ocr", 5)
	require.NoError(t, store.EnqueueRetry(ctx, v3, time.Now().Add(time.Hour)))

	removed, err := store.CancelJob(ctx, victim)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{v1.ID, v2.ID, v3.ID}, removed)

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	got, err := store.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, keep.ID, got.ID)

	got, err = store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	removed, err = store.CancelJob(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMemoryStoreSizeByType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, nil)
	jobID := uuid.New()

	require.NoError(t, store.Enqueue(ctx, newTask(jobID, "ocr", 0)))
	require.NoError(t, store.Enqueue(ctx, newTask(jobID, "ocr", 0)))
	require.NoError(t, store.Enqueue(ctx, newTask(jobID, "nlp", 0)))

	sizes, err := store.SizeByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ocr": 2, "nlp": 1}, sizes)

	_, err = store.Dequeue(ctx, "ocr")
	require.NoError(t, err)
	sizes, err = store.SizeByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ocr": 1, "nlp": 1}, sizes)
}
