package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

// ListFilter narrows a principal's task list. The zero value lists everything.
type ListFilter struct {
	Status  models.TaskStatus
	DueFrom *time.Time
	DueTo   *time.Time
	Search  string
	Limit   int
}

// TaskCounts is the raw result of the scoped aggregate query.
type TaskCounts struct {
	Total     int64
	Completed int64
	Pending   int64
	ThisWeek  int64
}

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// scoped restricts every query to rows owned by owner. All repository reads
// and writes go through it.
func scoped(owner string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id = ?", owner)
	}
}

func (r *TaskRepository) List(ctx context.Context, owner string, filter ListFilter) ([]models.Task, error) {
	q := r.db.WithContext(ctx).Scopes(scoped(owner))

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.DueFrom != nil {
		q = q.Where("due_date >= ?", filter.DueFrom.UTC())
	}
	if filter.DueTo != nil {
		q = q.Where("due_date < ?", filter.DueTo.UTC())
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	tasks := make([]models.Task, 0)
	if err := q.Order("created_at DESC").Order("id DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) Get(ctx context.Context, owner string, id uuid.UUID) (*models.Task, error) {
	return r.get(r.db.WithContext(ctx), owner, id)
}

func (r *TaskRepository) get(db *gorm.DB, owner string, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := db.Scopes(scoped(owner)).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update loads the owner's task, lets mutate change it, and saves the result
// in one transaction. mutate sees the stored row and may return an error to
// abort without writing.
func (r *TaskRepository) Update(ctx context.Context, owner string, id uuid.UUID, mutate func(*models.Task) error) (*models.Task, error) {
	var updated *models.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := r.get(tx, owner, id)
		if err != nil {
			return err
		}
		if err := mutate(task); err != nil {
			return err
		}

		result := tx.Model(&models.Task{}).Scopes(scoped(owner)).Where("id = ?", id).
			Select("title", "description", "status", "due_date", "updated_at").
			Updates(task)
		if result.Error != nil {
			return fmt.Errorf("failed to update task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *TaskRepository) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Scopes(scoped(owner)).Where("id = ?", id).Delete(&models.Task{})
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CountStats computes every count in a single statement so the figures come
// from one snapshot of the owner's rows.
func (r *TaskRepository) CountStats(ctx context.Context, owner string, weekStart time.Time) (TaskCounts, error) {
	var counts TaskCounts
	err := r.db.WithContext(ctx).Model(&models.Task{}).Scopes(scoped(owner)).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = ? AND updated_at >= ? THEN 1 ELSE 0 END), 0) AS this_week`,
			models.StatusCompleted, models.StatusPending, models.StatusCompleted, weekStart.UTC()).
		Scan(&counts).Error
	if err != nil {
		return TaskCounts{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	return counts, nil
}
