package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskboard/internal/database"
	"taskboard/internal/models"
	"taskboard/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupTestRepo(t *testing.T) *repositories.TaskRepository {
	t.Helper()

	name, err := uuid.NewV4()
	require.NoError(t, err)

	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:       database.DriverSQLite,
		DSN:          "file:" + name.String() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Migrate())
	t.Cleanup(func() { pool.Close() })

	return repositories.NewTaskRepository(pool.DB)
}

var base = time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *repositories.TaskRepository, owner, title string, status models.TaskStatus, offset time.Duration) *models.Task {
	t.Helper()

	id, err := uuid.NewV4()
	require.NoError(t, err)

	ts := base.Add(offset)
	task := &models.Task{
		ID:        id,
		Owner:     owner,
		Title:     title,
		Status:    status,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	require.NoError(t, repo.Create(context.Background(), task))
	return task
}

func titles(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func TestTaskRepository_ListIsOwnerScopedAndNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "alice", "first", models.StatusPending, 0)
	seed(t, repo, "alice", "second", models.StatusCompleted, time.Minute)
	seed(t, repo, "bob", "bob's", models.StatusPending, 2*time.Minute)

	tasks, err := repo.List(ctx, "alice", repositories.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, titles(tasks))

	tasks, err = repo.List(ctx, "carol", repositories.ListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestTaskRepository_ListFilters(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	seed(t, repo, "alice", "Buy milk", models.StatusPending, 0)
	seed(t, repo, "alice", "Write report", models.StatusCompleted, time.Minute)
	due := seed(t, repo, "alice", "Call plumber", models.StatusPending, 2*time.Minute)

	day := time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC)
	_, err := repo.Update(ctx, "alice", due.ID, func(task *models.Task) error {
		task.DueDate = &day
		return nil
	})
	require.NoError(t, err)

	tasks, err := repo.List(ctx, "alice", repositories.ListFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, []string{"Write report"}, titles(tasks))

	tasks, err = repo.List(ctx, "alice", repositories.ListFilter{Search: "MILK"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Buy milk"}, titles(tasks))

	next := day.AddDate(0, 0, 1)
	tasks, err = repo.List(ctx, "alice", repositories.ListFilter{DueFrom: &day, DueTo: &next})
	require.NoError(t, err)
	assert.Equal(t, []string{"Call plumber"}, titles(tasks))

	tasks, err = repo.List(ctx, "alice", repositories.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestTaskRepository_GetRespectsOwner(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	task := seed(t, repo, "alice", "mine", models.StatusPending, 0)

	got, err := repo.Get(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.True(t, got.CreatedAt.Equal(task.CreatedAt))

	_, err = repo.Get(ctx, "bob", task.ID)
	assert.ErrorIs(t, err, repositories.ErrTaskNotFound)

	_, err = repo.Get(ctx, "alice", uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, repositories.ErrTaskNotFound)
}

func TestTaskRepository_UpdateAbortsOnMutateError(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	task := seed(t, repo, "alice", "keep", models.StatusPending, 0)
	abort := errors.New("abort")

	_, err := repo.Update(ctx, "alice", task.ID, func(t *models.Task) error {
		t.Title = "changed"
		return abort
	})
	assert.ErrorIs(t, err, abort)

	got, err := repo.Get(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Title)
}

func TestTaskRepository_UpdateOtherOwnerIsNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	task := seed(t, repo, "alice", "mine", models.StatusPending, 0)

	called := false
	_, err := repo.Update(ctx, "bob", task.ID, func(*models.Task) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, repositories.ErrTaskNotFound)
	assert.False(t, called)
}

func TestTaskRepository_UpdateCanClearDueDate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	task := seed(t, repo, "alice", "dated", models.StatusPending, 0)
	day := time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)

	_, err := repo.Update(ctx, "alice", task.ID, func(t *models.Task) error {
		t.DueDate = &day
		return nil
	})
	require.NoError(t, err)

	_, err = repo.Update(ctx, "alice", task.ID, func(t *models.Task) error {
		t.DueDate = nil
		return nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
}

func TestTaskRepository_Delete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	task := seed(t, repo, "alice", "gone", models.StatusPending, 0)

	assert.ErrorIs(t, repo.Delete(ctx, "bob", task.ID), repositories.ErrTaskNotFound)
	require.NoError(t, repo.Delete(ctx, "alice", task.ID))
	assert.ErrorIs(t, repo.Delete(ctx, "alice", task.ID), repositories.ErrTaskNotFound)
}

func TestTaskRepository_CountStats(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	seed(t, repo, "alice", "old done", models.StatusCompleted, -10*24*time.Hour)
	seed(t, repo, "alice", "new done", models.StatusCompleted, 0)
	seed(t, repo, "alice", "boundary done", models.StatusCompleted, weekStart.Sub(base))
	seed(t, repo, "alice", "open", models.StatusPending, 0)
	seed(t, repo, "bob", "bob done", models.StatusCompleted, 0)

	counts, err := repo.CountStats(ctx, "alice", weekStart)
	require.NoError(t, err)
	assert.Equal(t, repositories.TaskCounts{Total: 4, Completed: 3, Pending: 1, ThisWeek: 2}, counts)

	counts, err = repo.CountStats(ctx, "nobody", weekStart)
	require.NoError(t, err)
	assert.Equal(t, repositories.TaskCounts{}, counts)
}
