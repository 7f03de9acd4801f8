package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Metrics struct {
	RequestCount    int64            `json:"request_count"`
	RequestDuration time.Duration    `json:"avg_request_duration_ns"`
	ActiveRequests  int64            `json:"active_requests"`
	ErrorCount      int64            `json:"error_count"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Endpoints       map[string]int64 `json:"endpoint_calls"`
	StartTime       time.Time        `json:"start_time"`
	LastRequest     time.Time        `json:"last_request"`
}

type HealthCheck struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	LastRun  time.Time     `json:"last_run"`
}

type HealthCheckFunc func(ctx context.Context) error

// StatsFunc reports a component's internal counters for the metrics page.
type StatsFunc func() interface{}

// Registry collects request metrics, named health checks and component
// stats, and serves them over HTTP.
type Registry struct {
	mu            sync.RWMutex
	metrics       Metrics
	totalDuration time.Duration

	checks       map[string]HealthCheckFunc
	stats        map[string]StatsFunc
	checkTimeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		metrics: Metrics{
			StatusCodes: make(map[string]int64),
			Endpoints:   make(map[string]int64),
			StartTime:   time.Now(),
		},
		checks:       make(map[string]HealthCheckFunc),
		stats:        make(map[string]StatsFunc),
		checkTimeout: 5 * time.Second,
	}
}

func (r *Registry) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		r.mu.Lock()
		r.metrics.ActiveRequests++
		r.mu.Unlock()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		endpoint := c.Request.Method + " " + path

		r.mu.Lock()
		defer r.mu.Unlock()
		r.metrics.RequestCount++
		r.metrics.ActiveRequests--
		r.totalDuration += duration
		r.metrics.RequestDuration = r.totalDuration / time.Duration(r.metrics.RequestCount)
		r.metrics.LastRequest = time.Now()

		if statusCode >= 400 {
			r.metrics.ErrorCount++
		}
		r.metrics.StatusCodes[strconv.Itoa(statusCode)]++
		r.metrics.Endpoints[endpoint]++
	}
}

func (r *Registry) GetMetrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.metrics
	m.StatusCodes = make(map[string]int64, len(r.metrics.StatusCodes))
	m.Endpoints = make(map[string]int64, len(r.metrics.Endpoints))
	for k, v := range r.metrics.StatusCodes {
		m.StatusCodes[k] = v
	}
	for k, v := range r.metrics.Endpoints {
		m.Endpoints[k] = v
	}
	return m
}

func (r *Registry) RegisterHealthCheck(name string, check HealthCheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

func (r *Registry) RegisterStats(name string, fn StatsFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[name] = fn
}

// RunHealthChecks executes every registered check concurrently, each
// bounded by the check timeout.
func (r *Registry) RunHealthChecks(ctx context.Context) map[string]HealthCheck {
	r.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	timeout := r.checkTimeout
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]HealthCheck, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn HealthCheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			result := HealthCheck{Name: name, Status: "healthy", LastRun: start}
			if err := fn(checkCtx); err != nil {
				result.Status = "unhealthy"
				result.Message = err.Error()
			}
			result.Duration = time.Since(start)

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()
	return results
}

func healthy(checks map[string]HealthCheck) bool {
	for _, check := range checks {
		if check.Status != "healthy" {
			return false
		}
	}
	return true
}

type SystemMetrics struct {
	Uptime         string      `json:"uptime"`
	MemoryUsage    MemoryStats `json:"memory"`
	GoroutineCount int         `json:"goroutine_count"`
	CPUCount       int         `json:"cpu_count"`
	GoVersion      string      `json:"go_version"`
}

type MemoryStats struct {
	Alloc        uint64 `json:"alloc_mb"`
	TotalAlloc   uint64 `json:"total_alloc_mb"`
	Sys          uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
	NextGC       uint64 `json:"next_gc_mb"`
	GCPauseTotal string `json:"gc_pause_total"`
}

func (r *Registry) GetSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemMetrics{
		Uptime: time.Since(r.metrics.StartTime).String(),
		MemoryUsage: MemoryStats{
			Alloc:        bToMb(m.Alloc),
			TotalAlloc:   bToMb(m.TotalAlloc),
			Sys:          bToMb(m.Sys),
			NumGC:        m.NumGC,
			NextGC:       bToMb(m.NextGC),
			GCPauseTotal: time.Duration(m.PauseTotalNs).String(),
		},
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

func (r *Registry) componentStats() map[string]interface{} {
	r.mu.RLock()
	fns := make(map[string]StatsFunc, len(r.stats))
	for name, fn := range r.stats {
		fns[name] = fn
	}
	r.mu.RUnlock()

	out := make(map[string]interface{}, len(fns))
	for name, fn := range fns {
		out[name] = fn()
	}
	return out
}

func (r *Registry) MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"application": r.GetMetrics(),
			"system":      r.GetSystemMetrics(),
			"components":  r.componentStats(),
			"timestamp":   time.Now(),
		})
	}
}

func (r *Registry) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := r.RunHealthChecks(c.Request.Context())

		overallStatus := "healthy"
		status := http.StatusOK
		if !healthy(checks) {
			overallStatus = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now(),
			"checks":    checks,
			"uptime":    time.Since(r.metrics.StartTime).String(),
		})
	}
}

func (r *Registry) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if healthy(r.RunHealthChecks(c.Request.Context())) {
			c.JSON(http.StatusOK, gin.H{
				"status":    "ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"timestamp": time.Now(),
		})
	}
}

func (r *Registry) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
			"uptime":    time.Since(r.metrics.StartTime).String(),
		})
	}
}

// Register mounts the operational endpoints on router.
func (r *Registry) Register(router gin.IRouter) {
	router.GET("/health", r.HealthHandler())
	router.GET("/health/ready", r.ReadinessHandler())
	router.GET("/health/live", r.LivenessHandler())
	router.GET("/metrics", r.MetricsHandler())
}
