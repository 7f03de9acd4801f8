package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobType string

const (
	JobTypeStatsRefresh JobType = "stats_refresh"
)

const (
	QueueStats = "stats"
	QueueRetry = "retry_queue"
	QueueDead  = "dead_queue"
)

type Job struct {
	ID        string                 `json:"id"`
	Type      JobType                `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Attempts  int                    `json:"attempts"`
	MaxTries  int                    `json:"max_tries"`
	CreatedAt time.Time              `json:"created_at"`
	ProcessAt time.Time              `json:"process_at"`
}

// Owner returns the "owner" payload field, or "" when absent.
func (j *Job) Owner() string {
	owner, _ := j.Payload["owner"].(string)
	return owner
}

type JobHandler func(ctx context.Context, job *Job) error

type Worker struct {
	client   *redis.Client
	handlers map[JobType]JobHandler
	queues   []string
	mu       sync.RWMutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	blockTimeout time.Duration
	pollInterval time.Duration
	jobTimeout   time.Duration
	retryBackoff time.Duration
	now          func() time.Time
}

type WorkerConfig struct {
	RedisClient  *redis.Client
	Queues       []string
	BlockTimeout time.Duration
	PollInterval time.Duration
	JobTimeout   time.Duration
	// RetryBackoff is doubled for every failed attempt.
	RetryBackoff time.Duration
}

func NewWorker(config WorkerConfig) *Worker {
	w := &Worker{
		client:       config.RedisClient,
		handlers:     make(map[JobType]JobHandler),
		queues:       config.Queues,
		blockTimeout: config.BlockTimeout,
		pollInterval: config.PollInterval,
		jobTimeout:   config.JobTimeout,
		retryBackoff: config.RetryBackoff,
		now:          time.Now,
	}
	if len(w.queues) == 0 {
		w.queues = []string{QueueStats, QueueRetry}
	}
	if w.blockTimeout <= 0 {
		w.blockTimeout = 5 * time.Second
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 30 * time.Second
	}
	if w.retryBackoff <= 0 {
		w.retryBackoff = 5 * time.Second
	}
	return w
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Start launches concurrency loops that run until ctx is cancelled or Stop
// is called.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	ctx, w.cancel = context.WithCancel(ctx)
	log.Printf("[worker] starting %d goroutines on queues %v", concurrency, w.queues)

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx)
	}
}

func (w *Worker) Stop() {
	log.Println("[worker] stopping")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	log.Println("[worker] stopped")
}

func (w *Worker) workerLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.processNextJob(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[worker] error processing job: %v", err)
			w.sleep(ctx, w.pollInterval)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) processNextJob(ctx context.Context) error {
	result, err := w.client.BLPop(ctx, w.blockTimeout, w.queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	queue := result[0]
	jobData := result[1]

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if w.now().Before(job.ProcessAt) {
		if err := w.enqueueJob(ctx, queue, &job); err != nil {
			return err
		}
		// Not due yet; avoid spinning on a queue that only holds future jobs.
		w.sleep(ctx, w.pollInterval)
		return nil
	}

	return w.executeJob(ctx, &job)
}

func (w *Worker) executeJob(ctx context.Context, job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	if !exists {
		return w.moveToDeadQueue(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err := handler(jobCtx, job)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			log.Printf("[worker] job %s failed (attempt %d/%d), retrying: %v",
				job.ID, job.Attempts, job.MaxTries, err)
			return w.retryJob(ctx, job)
		}

		log.Printf("[worker] job %s failed permanently after %d attempts: %v",
			job.ID, job.Attempts, err)
		return w.moveToDeadQueue(ctx, job, err)
	}

	log.Printf("[worker] job %s (%s) completed", job.ID, job.Type)
	return nil
}

func (w *Worker) retryJob(ctx context.Context, job *Job) error {
	delay := w.retryBackoff * time.Duration(1<<(job.Attempts-1))
	job.ProcessAt = w.now().Add(delay)

	return w.enqueueJob(ctx, QueueRetry, job)
}

func (w *Worker) enqueueJob(ctx context.Context, queue string, job *Job) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return w.client.RPush(ctx, queue, jobData).Err()
}

func (w *Worker) moveToDeadQueue(ctx context.Context, job *Job, jobErr error) error {
	deadJob := map[string]interface{}{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    w.now(),
	}

	deadJobData, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	return w.client.RPush(ctx, QueueDead, deadJobData).Err()
}

type JobQueue struct {
	client   *redis.Client
	maxTries int
}

type JobQueueOption func(*JobQueue)

func WithMaxTries(n int) JobQueueOption {
	return func(q *JobQueue) { q.maxTries = n }
}

func NewJobQueue(client *redis.Client, opts ...JobQueueOption) *JobQueue {
	q := &JobQueue{client: client, maxTries: 3}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}) error {
	return q.EnqueueAt(ctx, queue, jobType, payload, time.Now())
}

func (q *JobQueue) EnqueueAt(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}, processAt time.Time) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("failed to generate job id: %w", err)
	}

	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Payload:   payload,
		Attempts:  0,
		MaxTries:  q.maxTries,
		CreatedAt: time.Now(),
		ProcessAt: processAt,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return q.client.RPush(ctx, queue, jobData).Err()
}

// EnqueueStatsRefresh schedules recomputation of owner's cached statistics.
func (q *JobQueue) EnqueueStatsRefresh(ctx context.Context, owner string) error {
	return q.Enqueue(ctx, QueueStats, JobTypeStatsRefresh, map[string]interface{}{"owner": owner})
}

func (q *JobQueue) GetQueueSize(ctx context.Context, queue string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.LLen(ctx, queue).Result()
}
