package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"taskboard/internal/cache"
	"taskboard/internal/config"
	"taskboard/internal/database"
	"taskboard/internal/handlers"
	"taskboard/internal/middleware"
	"taskboard/internal/monitoring"
	"taskboard/internal/repositories"
	"taskboard/internal/services"
	"taskboard/internal/worker"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm/logger"
)

// application owns every long-lived component of the server.
type application struct {
	cfg *config.Config

	pool     *database.DatabasePool
	redis    *cache.RedisCache
	payloads cache.Cache
	versions cache.Cache
	jobs     *worker.JobQueue
	worker   *worker.Worker
	limiter  *middleware.RateLimiter
	registry *monitoring.Registry
	tasks    *services.CachedTaskService
	router   *gin.Engine

	cancel context.CancelFunc
}

func newApplication(cfg *config.Config) (*application, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	app := &application{cfg: cfg, registry: monitoring.NewRegistry()}

	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Warn
	}
	app.pool, err = database.NewDatabasePool(&database.PoolConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.GetDatabaseDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		LogLevel:        logLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := app.pool.Migrate(); err != nil {
		app.pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	app.registry.RegisterHealthCheck("database", app.pool.HealthContext)
	app.registry.RegisterStats("database", func() interface{} { return app.pool.Stats() })

	app.setupCache()

	base := services.NewTaskService(repositories.NewTaskRepository(app.pool.DB), services.WithLocation(loc))
	opts := []services.CachedTaskServiceOption{
		services.WithCacheTTLs(cfg.Stats.CacheTTL, cfg.Stats.ListTTL),
		services.WithStatsClock(base.Now),
	}
	if app.jobs != nil {
		opts = append(opts, services.WithStatsRefreshQueue(app.jobs))
	}
	app.tasks = services.NewCachedTaskService(base, app.payloads, app.versions, opts...)
	app.registry.RegisterStats("cache", func() interface{} { return app.tasks.GetCacheStats() })

	if app.redis != nil {
		app.worker = worker.NewWorker(worker.WorkerConfig{
			RedisClient:  app.redis.Client(),
			Queues:       cfg.Worker.Queues,
			PollInterval: cfg.Worker.PollInterval,
		})
		app.worker.RegisterHandler(worker.JobTypeStatsRefresh, app.refreshStats)
		app.registry.RegisterStats("queues", app.queueSizes)
	}

	if cfg.RateLimit.Enabled {
		app.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.BurstSize,
			IdleTTL:           cfg.RateLimit.CleanupInterval,
		})
		app.registry.RegisterStats("rate_limiter", func() interface{} {
			return map[string]int{"clients": app.limiter.Clients()}
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	app.router = handlers.NewRouter(handlers.RouterConfig{
		TaskService: app.tasks,
		Identity: middleware.IdentityConfig{
			Secret: []byte(cfg.Auth.JWTSecret),
			Issuer: cfg.Auth.Issuer,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimiter:    app.limiter,
		Monitoring:     app.registry,
		ServiceName:    cfg.Telemetry.ServiceName,
		AccessLog:      !cfg.IsProduction(),
	})

	return app, nil
}

// setupCache uses redis for versions and as the second cache level when
// enabled. Without redis everything stays in process, which is only
// coherent for a single replica.
func (a *application) setupCache() {
	if !a.cfg.Redis.Enabled {
		log.Println("[cache] redis disabled, using in-process cache")
		a.versions = cache.NewMemoryCache(0)
		a.payloads = cache.NewMultiLevelCache(nil, nil)
		return
	}

	a.redis = cache.NewRedisCache(&cache.CacheConfig{
		Addr:         a.cfg.GetRedisAddr(),
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		PoolSize:     a.cfg.Redis.PoolSize,
		MinIdleConns: a.cfg.Redis.MinIdleConns,
		MaxRetries:   a.cfg.Redis.MaxRetries,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.redis.Health(ctx); err != nil {
		log.Printf("[cache] redis at %s not reachable yet: %v", a.cfg.GetRedisAddr(), err)
	}

	a.versions = a.redis
	a.payloads = cache.NewMultiLevelCache(cache.NewMemoryCache(time.Minute), a.redis)
	a.jobs = worker.NewJobQueue(a.redis.Client())
	a.registry.RegisterHealthCheck("redis", a.redis.Health)
}

func (a *application) refreshStats(ctx context.Context, job *worker.Job) error {
	owner := job.Owner()
	if owner == "" {
		return fmt.Errorf("job %s has no owner", job.ID)
	}
	return a.tasks.RefreshStats(ctx, owner)
}

func (a *application) queueSizes() interface{} {
	sizes := make(map[string]int64)
	for _, q := range []string{worker.QueueStats, worker.QueueRetry, worker.QueueDead} {
		n, err := a.jobs.GetQueueSize(context.Background(), q)
		if err != nil {
			continue
		}
		sizes[q] = n
	}
	return sizes
}

// start launches the background loops. They stop when ctx is done or
// shutdown is called.
func (a *application) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	if a.worker != nil {
		a.worker.Start(ctx, a.cfg.Worker.Concurrency)
	}
	if a.limiter != nil {
		go a.limiter.Run(ctx, a.cfg.RateLimit.CleanupInterval)
	}
}

// shutdown stops the HTTP server first so no request observes a closed
// store, then the worker, then the cache and the database.
func (a *application) shutdown(ctx context.Context, srv *http.Server) error {
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.payloads.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if a.redis == nil {
		a.versions.Close()
	}
	if err := a.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}
