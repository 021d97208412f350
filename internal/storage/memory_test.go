package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medprice/internal/domain"
)

func TestTaskStateMachine(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &domain.AcquisitionTask{
		Name: "batch", Keywords: []string{"阿莫西林", "布洛芬"},
	})
	require.NoError(t, err)

	task, err := s.TaskByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, 2, task.TotalKeywords)

	// PENDING -> RUNNING.
	started, err := s.TryStartTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, started)

	// A RUNNING task cannot be started again.
	started, err = s.TryStartTask(ctx, id)
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, s.UpdateTaskProgress(ctx, id, 1, 12))
	require.NoError(t, s.FinishTask(ctx, id, domain.TaskCompleted, ""))

	task, err = s.TaskByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.True(t, task.Status.Terminal())
	assert.NotNil(t, task.CompletedAt)

	// Terminal non-RUNNING states allow a restart (retry).
	started, err = s.TryStartTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, started)
	task, err = s.TaskByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, task.CompletedKeywords, "restart resets progress")
	assert.Equal(t, 0, task.TotalFound)
}

func TestCancelWinsOverFinish(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &domain.AcquisitionTask{Name: "b", Keywords: []string{"k"}})
	require.NoError(t, err)

	// Cancel only applies to RUNNING tasks.
	cancelled, err := s.RequestCancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = s.TryStartTask(ctx, id)
	require.NoError(t, err)
	cancelled, err = s.RequestCancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// A racing worker finishing after the cancel must not overwrite it.
	require.NoError(t, s.FinishTask(ctx, id, domain.TaskCompleted, ""))
	task, err := s.TaskByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, task.Status)
}

func TestAppendObservationDeduplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pid, err := s.CreateProduct(ctx, &domain.CanonicalProduct{
		FullKey: "abcdef0123456789", SimpleKey: "abcdef012345",
		Name: "阿莫西林胶囊", Category: domain.CategoryDrug,
	})
	require.NoError(t, err)

	obs := &domain.PriceObservation{
		ProductID:  pid,
		SourceName: "ysbang-药房A",
		Price:      decimal.RequireFromString("12.50"),
	}
	inserted, err := s.AppendObservation(ctx, obs)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.AppendObservation(ctx, obs)
	require.NoError(t, err)
	assert.False(t, inserted, "identical (product, source, price) is a no-op")

	// A different source with the same price is kept.
	obs2 := *obs
	obs2.SourceName = "ysbang-药房B"
	inserted, err = s.AppendObservation(ctx, &obs2)
	require.NoError(t, err)
	assert.True(t, inserted)

	all, err := s.ObservationsByProduct(ctx, pid)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateProductIdempotentOnFullKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &domain.CanonicalProduct{
		FullKey: "abcdef0123456789", SimpleKey: "abcdef012345",
		Name: "阿莫西林胶囊", Category: domain.CategoryDrug,
	}
	id1, err := s.CreateProduct(ctx, p)
	require.NoError(t, err)
	id2, err := s.CreateProduct(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestWatchListSoftDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e, err := s.UpsertWatchEntry(ctx, "阿莫西林", "抗生素", 5)
	require.NoError(t, err)
	_, err = s.UpsertWatchEntry(ctx, "布洛芬", "解热镇痛", 3)
	require.NoError(t, err)

	active, err := s.ListWatch(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "阿莫西林", active[0].Keyword, "ordered by priority")

	removed, err := s.DeactivateWatchEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	active, err = s.ListWatch(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Deactivated entries survive and can be listed with activeOnly=false.
	all, err := s.ListWatch(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Re-adding the keyword reactivates the same entry.
	again, err := s.UpsertWatchEntry(ctx, "阿莫西林", "", 7)
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.ID)
	assert.True(t, again.Active)
	assert.Equal(t, "抗生素", again.Category, "category is kept when the upsert omits it")

	require.NoError(t, s.TouchWatchEntry(ctx, "布洛芬"))
	entries, err := s.ListWatch(ctx, "解热镇痛", true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].CrawlCount)
	assert.NotNil(t, entries[0].LastCrawledAt)
}
