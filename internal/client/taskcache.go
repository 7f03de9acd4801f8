package client

import (
	"context"
	"slices"
	"sync"
	"time"

	"taskboard/internal/models"
	"taskboard/internal/stats"

	"github.com/gofrs/uuid"
)

// TaskCache holds the principal's full task list. Every mutation goes to the
// server first and then replaces the list with a fresh copy, so the local
// view never diverges from what the server committed.
type TaskCache struct {
	client *Client
	now    func() time.Time
	loc    *time.Location

	mu      sync.RWMutex
	tasks   []models.Task
	fetched bool
}

type TaskCacheOption func(*TaskCache)

func WithLocation(loc *time.Location) TaskCacheOption {
	return func(tc *TaskCache) { tc.loc = loc }
}

func WithClock(now func() time.Time) TaskCacheOption {
	return func(tc *TaskCache) { tc.now = now }
}

func NewTaskCache(c *Client, opts ...TaskCacheOption) *TaskCache {
	tc := &TaskCache{client: c, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Refresh replaces the cached list with the server's.
func (tc *TaskCache) Refresh(ctx context.Context) error {
	tasks, err := tc.client.ListTasks(ctx, ListOptions{})
	if err != nil {
		return err
	}
	tc.mu.Lock()
	tc.tasks = tasks
	tc.fetched = true
	tc.mu.Unlock()
	return nil
}

// Invalidate forgets the cached list; the next read fetches it again.
func (tc *TaskCache) Invalidate() {
	tc.mu.Lock()
	tc.tasks = nil
	tc.fetched = false
	tc.mu.Unlock()
}

// Tasks returns the cached list, fetching it on first use.
func (tc *TaskCache) Tasks(ctx context.Context) ([]models.Task, error) {
	tc.mu.RLock()
	if tc.fetched {
		tasks := slices.Clone(tc.tasks)
		tc.mu.RUnlock()
		return tasks, nil
	}
	tc.mu.RUnlock()

	if err := tc.Refresh(ctx); err != nil {
		return nil, err
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return slices.Clone(tc.tasks), nil
}

// Stats recomputes the statistics from the cached list.
func (tc *TaskCache) Stats(ctx context.Context) (stats.TaskStats, error) {
	tasks, err := tc.Tasks(ctx)
	if err != nil {
		return stats.TaskStats{}, err
	}
	return stats.Compute(tasks, tc.now().In(tc.loc)), nil
}

func (tc *TaskCache) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	task, err := tc.client.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	return task, tc.resync(ctx)
}

func (tc *TaskCache) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Task, error) {
	task, err := tc.client.UpdateTask(ctx, id, req)
	if err != nil {
		return nil, err
	}
	return task, tc.resync(ctx)
}

// SetStatus is the completion toggle.
func (tc *TaskCache) SetStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) (*models.Task, error) {
	return tc.Update(ctx, id, UpdateRequest{Status: &status})
}

func (tc *TaskCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := tc.client.DeleteTask(ctx, id); err != nil {
		return err
	}
	return tc.resync(ctx)
}

func (tc *TaskCache) resync(ctx context.Context) error {
	tc.Invalidate()
	return tc.Refresh(ctx)
}
