package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

// These tests need a reachable database; set TEST_DATABASE_URL to run them.
func newPostgresStore(t *testing.T, maxSize int) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn, MaxQueueSize: maxSize}, nil)
	require.NoError(t, err)
	_, err = store.pool.Exec(ctx, `TRUNCATE docbatch_tasks`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.pool.Exec(context.Background(), `TRUNCATE docbatch_tasks`)
		_ = store.Close()
	})
	return store
}

func TestPostgresStoreDequeueOrder(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t, 100)
	jobID := uuid.New()

	a := newTask(jobID, "ocr", 5)
	b := newTask(jobID, "ocr", 1)
	c := newTask(jobID, "ocr", 5)
	d := newTask(jobID, "ocr", 3)
	require.NoError(t, store.EnqueueBatch(ctx, []*entity.Task{a, b, c, d}))

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

func TestPostgresStoreCapacity(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t, 2)
	jobID := uuid.New()

	batch := []*entity.Task{
		newTask(jobID, "ocr", 0),
		newTask(jobID, "ocr", 0),
		newTask(jobID, "ocr", 0),
	}
	assert.ErrorIs(t, store.EnqueueBatch(ctx, batch), common.ErrQueueFull)
	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, store.EnqueueBatch(ctx, batch[:2]))
	require.NoError(t, store.EnqueueRetry(ctx, batch[2], time.Now()))
}

func TestPostgresStoreCancelAndDelay(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t, 100)
	jobID := uuid.New()

	delayed := newTask(jobID, "ocr", 0)
	require.NoError(t, store.EnqueueRetry(ctx, delayed, time.Now().Add(time.Hour)))

	got, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "future ready_at must be invisible")

	removed, err := store.CancelJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{delayed.ID}, removed)
}
