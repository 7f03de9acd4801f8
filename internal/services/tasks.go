package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/internal/models"
	"taskboard/internal/repositories"
	"taskboard/internal/stats"

	"github.com/gofrs/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	FilterAll       = "all"
	FilterPending   = "pending"
	FilterCompleted = "completed"
	FilterToday     = "today"
)

var tracer = otel.Tracer("taskboard/internal/services")

type TaskInput struct {
	Title       string
	Description string
	Status      models.TaskStatus
	DueDate     *time.Time
}

// OptionalDate distinguishes "leave unchanged" (Set == false) from "clear"
// (Set == true, Value == nil).
type OptionalDate struct {
	Set   bool
	Value *time.Time
}

// TaskPatch carries only the fields a caller supplied.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *models.TaskStatus
	DueDate     OptionalDate
}

type ListQuery struct {
	Filter string
	Search string
	Limit  int
}

func (q ListQuery) IsDefault() bool {
	return (q.Filter == "" || q.Filter == FilterAll) && strings.TrimSpace(q.Search) == "" && q.Limit <= 0
}

type TaskService interface {
	ListTasks(ctx context.Context, owner string, query ListQuery) ([]models.Task, error)
	GetTask(ctx context.Context, owner string, id uuid.UUID) (*models.Task, error)
	CreateTask(ctx context.Context, owner string, input TaskInput) (*models.Task, error)
	UpdateTask(ctx context.Context, owner string, id uuid.UUID, patch TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, owner string, id uuid.UUID) error
	GetStats(ctx context.Context, owner string) (stats.TaskStats, error)
}

type TaskServiceOption func(*TaskServiceImpl)

// WithClock overrides the time source used for timestamps and week bounds.
func WithClock(now func() time.Time) TaskServiceOption {
	return func(s *TaskServiceImpl) { s.now = now }
}

// WithLocation sets the zone whose local midnights define "today" and the
// start of the statistics week.
func WithLocation(loc *time.Location) TaskServiceOption {
	return func(s *TaskServiceImpl) { s.loc = loc }
}

type TaskServiceImpl struct {
	repo *repositories.TaskRepository
	now  func() time.Time
	loc  *time.Location
}

func NewTaskService(repo *repositories.TaskRepository, opts ...TaskServiceOption) *TaskServiceImpl {
	s := &TaskServiceImpl{
		repo: repo,
		now:  time.Now,
		loc:  time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock in the configured location.
func (s *TaskServiceImpl) Now() time.Time {
	return s.now().In(s.loc)
}

func (s *TaskServiceImpl) ListTasks(ctx context.Context, owner string, query ListQuery) (tasks []models.Task, err error) {
	ctx, span := startSpan(ctx, "TaskService.ListTasks", owner)
	defer func() { endSpan(span, err) }()

	if owner == "" {
		return nil, ErrUnauthenticated
	}

	filter, err := s.listFilter(query)
	if err != nil {
		return nil, err
	}

	tasks, err = s.repo.List(ctx, owner, filter)
	if err != nil {
		return nil, translateRepoError(err)
	}
	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

func (s *TaskServiceImpl) listFilter(query ListQuery) (repositories.ListFilter, error) {
	if query.Limit < 0 {
		return repositories.ListFilter{}, invalid("limit", "must not be negative")
	}
	filter := repositories.ListFilter{Search: query.Search, Limit: query.Limit}

	switch query.Filter {
	case "", FilterAll:
	case FilterPending:
		filter.Status = models.StatusPending
	case FilterCompleted:
		filter.Status = models.StatusCompleted
	case FilterToday:
		y, m, d := s.Now().Date()
		from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 0, 1)
		filter.DueFrom, filter.DueTo = &from, &to
	default:
		return repositories.ListFilter{}, invalid("filter", "must be one of all, pending, completed, today")
	}
	return filter, nil
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, owner string, id uuid.UUID) (task *models.Task, err error) {
	ctx, span := startSpan(ctx, "TaskService.GetTask", owner)
	defer func() { endSpan(span, err) }()

	if owner == "" {
		return nil, ErrUnauthenticated
	}

	task, err = s.repo.Get(ctx, owner, id)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return task, nil
}

func (s *TaskServiceImpl) CreateTask(ctx context.Context, owner string, input TaskInput) (task *models.Task, err error) {
	ctx, span := startSpan(ctx, "TaskService.CreateTask", owner)
	defer func() { endSpan(span, err) }()

	if owner == "" {
		return nil, ErrUnauthenticated
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, invalid("title", "Title is required")
	}

	status := input.Status
	if status == "" {
		status = models.StatusPending
	}
	if !status.Valid() {
		return nil, invalid("status", "must be pending or completed")
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%w: generate task id: %w", ErrPersistence, err)
	}

	now := s.timestamp()
	task = &models.Task{
		ID:          id,
		Owner:       owner,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		DueDate:     normalizeDueDate(input.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, translateRepoError(err)
	}
	span.SetAttributes(attribute.String("task.id", task.ID.String()))
	return task, nil
}

func (s *TaskServiceImpl) UpdateTask(ctx context.Context, owner string, id uuid.UUID, patch TaskPatch) (task *models.Task, err error) {
	ctx, span := startSpan(ctx, "TaskService.UpdateTask", owner)
	defer func() { endSpan(span, err) }()

	if owner == "" {
		return nil, ErrUnauthenticated
	}

	task, err = s.repo.Update(ctx, owner, id, func(t *models.Task) error {
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return invalid("title", "Title is required")
			}
			t.Title = title
		}
		if patch.Description != nil {
			t.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Status != nil {
			if !patch.Status.Valid() {
				return invalid("status", "must be pending or completed")
			}
			t.Status = *patch.Status
		}
		if patch.DueDate.Set {
			t.DueDate = normalizeDueDate(patch.DueDate.Value)
		}

		now := s.timestamp()
		if !now.After(t.UpdatedAt) {
			now = t.UpdatedAt.Add(time.Microsecond)
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, translateRepoError(err)
	}
	return task, nil
}

func (s *TaskServiceImpl) DeleteTask(ctx context.Context, owner string, id uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "TaskService.DeleteTask", owner)
	defer func() { endSpan(span, err) }()

	if owner == "" {
		return ErrUnauthenticated
	}

	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return translateRepoError(err)
	}
	return nil
}

func (s *TaskServiceImpl) GetStats(ctx context.Context, owner string) (result stats.TaskStats, err error) {
	ctx, span := startSpan(ctx, "TaskService.GetStats", owner)
	defer func() { endSpan(span, err) }()

	if owner == "" {
		return stats.TaskStats{}, ErrUnauthenticated
	}

	counts, err := s.repo.CountStats(ctx, owner, stats.StartOfWeek(s.Now()))
	if err != nil {
		return stats.TaskStats{}, translateRepoError(err)
	}
	return stats.Finalize(counts.Total, counts.Completed, counts.Pending, counts.ThisWeek), nil
}

// timestamp is stored in UTC at microsecond precision, the finest both
// supported databases keep.
func (s *TaskServiceImpl) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func normalizeDueDate(d *time.Time) *time.Time {
	if d == nil {
		return nil
	}
	day := models.TruncateToDay(*d)
	return &day
}

func translateRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrTaskNotFound):
		return ErrNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func startSpan(ctx context.Context, name, owner string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("task.owner", owner)))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrValidation) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
