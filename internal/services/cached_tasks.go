package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"taskboard/internal/cache"
	"taskboard/internal/models"
	"taskboard/internal/stats"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/singleflight"
)

// StatsRefreshQueue schedules an asynchronous recomputation of an owner's
// cached statistics.
type StatsRefreshQueue interface {
	EnqueueStatsRefresh(ctx context.Context, owner string) error
}

type CachedTaskServiceOption func(*CachedTaskService)

func WithStatsRefreshQueue(q StatsRefreshQueue) CachedTaskServiceOption {
	return func(s *CachedTaskService) { s.queue = q }
}

// WithStatsClock sets the clock whose week bounds the cached thisWeek
// count. It must report time in the same location as the underlying
// service, typically TaskServiceImpl.Now.
func WithStatsClock(now func() time.Time) CachedTaskServiceOption {
	return func(s *CachedTaskService) { s.now = now }
}

func WithCacheTTLs(statsTTL, listTTL time.Duration) CachedTaskServiceOption {
	return func(s *CachedTaskService) {
		s.statsTTL = statsTTL
		s.listTTL = listTTL
	}
}

// CachedTaskService is a read-through cache in front of a TaskService.
//
// Payload keys embed a per-owner version that every mutation replaces, so a
// value computed before a mutation can never be served after it, even when a
// slow reader writes it back late. The version lives in versions, which must
// be shared by every replica for that guarantee to hold across processes.
type CachedTaskService struct {
	base     TaskService
	cache    cache.Cache
	versions cache.Cache
	queue    StatsRefreshQueue
	sfGroup  singleflight.Group
	metrics  *cache.CacheMetrics
	now      func() time.Time

	statsTTL time.Duration
	listTTL  time.Duration
}

func NewCachedTaskService(base TaskService, payloads, versions cache.Cache, opts ...CachedTaskServiceOption) *CachedTaskService {
	s := &CachedTaskService{
		base:     base,
		cache:    payloads,
		versions: versions,
		metrics:  cache.NewCacheMetrics(),
		now:      time.Now,
		statsTTL: 5 * time.Minute,
		listTTL:  15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func versionKey(owner string) string {
	return "task_version:" + owner
}

func ownerPattern(owner string) string {
	return fmt.Sprintf("user_tasks:%s:*", owner)
}

// statsKey includes the start of the current week, so a count cached before
// Sunday midnight is never served after it.
func statsKey(owner, version string, weekStart time.Time) string {
	return fmt.Sprintf("user_tasks:%s:%s:stats:%d", owner, version, weekStart.Unix())
}

func listKey(owner, version string) string {
	return fmt.Sprintf("user_tasks:%s:%s:list", owner, version)
}

// version returns the owner's current cache version, creating one when none
// exists. ok is false when the version store is unreachable; callers then
// bypass the cache.
func (s *CachedTaskService) version(ctx context.Context, owner string) (v string, ok bool) {
	err := s.versions.Get(ctx, versionKey(owner), &v)
	switch {
	case err == nil && v != "":
		return v, true
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		log.Printf("[cache] version lookup failed for owner=%s: %v", owner, err)
		return "", false
	}
	return s.bumpVersion(ctx, owner)
}

func (s *CachedTaskService) bumpVersion(ctx context.Context, owner string) (string, bool) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", false
	}
	v := id.String()
	if err := s.versions.Set(ctx, versionKey(owner), v, 0); err != nil {
		log.Printf("[cache] version bump failed for owner=%s: %v", owner, err)
		return "", false
	}
	return v, true
}

func (s *CachedTaskService) ListTasks(ctx context.Context, owner string, query ListQuery) ([]models.Task, error) {
	if owner == "" {
		return nil, ErrUnauthenticated
	}
	if !query.IsDefault() {
		return s.base.ListTasks(ctx, owner, query)
	}

	v, ok := s.version(ctx, owner)
	if !ok {
		return s.base.ListTasks(ctx, owner, query)
	}
	key := listKey(owner, v)

	var cached []models.Task
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		s.metrics.RecordLookup("list", true)
		return cached, nil
	}
	s.metrics.RecordLookup("list", false)

	// Callers share the result, so one caller going away must not fail the rest.
	shared := context.WithoutCancel(ctx)
	val, err, _ := s.sfGroup.Do(key, func() (any, error) {
		tasks, err := s.base.ListTasks(shared, owner, query)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(shared, key, tasks, s.listTTL); err != nil {
			log.Printf("[cache] failed to cache task list for owner=%s: %v", owner, err)
		}
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(val.([]models.Task)), nil
}

func (s *CachedTaskService) GetTask(ctx context.Context, owner string, id uuid.UUID) (*models.Task, error) {
	return s.base.GetTask(ctx, owner, id)
}

func (s *CachedTaskService) CreateTask(ctx context.Context, owner string, input TaskInput) (*models.Task, error) {
	task, err := s.base.CreateTask(ctx, owner, input)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, owner)
	return task, nil
}

func (s *CachedTaskService) UpdateTask(ctx context.Context, owner string, id uuid.UUID, patch TaskPatch) (*models.Task, error) {
	task, err := s.base.UpdateTask(ctx, owner, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, owner)
	return task, nil
}

func (s *CachedTaskService) DeleteTask(ctx context.Context, owner string, id uuid.UUID) error {
	if err := s.base.DeleteTask(ctx, owner, id); err != nil {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *CachedTaskService) GetStats(ctx context.Context, owner string) (stats.TaskStats, error) {
	if owner == "" {
		return stats.TaskStats{}, ErrUnauthenticated
	}

	v, ok := s.version(ctx, owner)
	if !ok {
		return s.base.GetStats(ctx, owner)
	}
	key := s.currentStatsKey(owner, v)

	var cached stats.TaskStats
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		s.metrics.RecordLookup("stats", true)
		return cached, nil
	}
	s.metrics.RecordLookup("stats", false)

	shared := context.WithoutCancel(ctx)
	val, err, _ := s.sfGroup.Do(key, func() (any, error) {
		return s.computeStats(shared, owner, key)
	})
	if err != nil {
		return stats.TaskStats{}, err
	}
	return val.(stats.TaskStats), nil
}

// RefreshStats recomputes and stores the owner's statistics under the
// current version. It is the stats_refresh job handler.
func (s *CachedTaskService) RefreshStats(ctx context.Context, owner string) error {
	v, ok := s.version(ctx, owner)
	if !ok {
		return fmt.Errorf("refresh stats for %s: %w", owner, cache.ErrCacheDown)
	}
	_, err := s.computeStats(ctx, owner, s.currentStatsKey(owner, v))
	return err
}

func (s *CachedTaskService) currentStatsKey(owner, version string) string {
	return statsKey(owner, version, stats.StartOfWeek(s.now()))
}

func (s *CachedTaskService) computeStats(ctx context.Context, owner, key string) (stats.TaskStats, error) {
	result, err := s.base.GetStats(ctx, owner)
	if err != nil {
		return stats.TaskStats{}, err
	}
	if err := s.cache.Set(ctx, key, result, s.statsTTL); err != nil {
		log.Printf("[cache] failed to cache stats for owner=%s: %v", owner, err)
	}
	return result, nil
}

// invalidate retires every cached payload of owner. Failures are logged; the
// mutation itself has already been committed.
func (s *CachedTaskService) invalidate(ctx context.Context, owner string) {
	if _, ok := s.bumpVersion(ctx, owner); !ok {
		log.Printf("[cache] owner=%s could not be re-versioned", owner)
	}
	if err := s.cache.DeletePattern(ctx, ownerPattern(owner)); err != nil {
		log.Printf("[cache] failed to invalidate owner=%s: %v", owner, err)
	}

	if s.queue != nil {
		if err := s.queue.EnqueueStatsRefresh(ctx, owner); err != nil {
			log.Printf("[cache] failed to enqueue stats refresh for owner=%s: %v", owner, err)
		}
	}
}

// GetCacheStats reports the payload cache plus list and stats lookups as
// seen by this service.
func (s *CachedTaskService) GetCacheStats() map[string]interface{} {
	return map[string]interface{}{
		"payloads": s.cache.Stats(),
		"lookups":  s.metrics.GetStats(),
	}
}
