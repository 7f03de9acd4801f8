package handlers

import (
	"time"

	"taskboard/internal/middleware"
	"taskboard/internal/monitoring"
	"taskboard/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	TaskService    services.TaskService
	Identity       middleware.IdentityConfig
	AllowedOrigins []string
	// RateLimiter is optional; nil disables throttling.
	RateLimiter *middleware.RateLimiter
	// Monitoring is optional; nil omits the operational endpoints.
	Monitoring  *monitoring.Registry
	ServiceName string
	// AccessLog enables gin's request logger.
	AccessLog bool
}

// NewRouter mounts the task API at /tasks and, for existing clients, at
// /api/tasks. Operational endpoints stay unauthenticated.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	if cfg.AccessLog {
		router.Use(gin.Logger())
	}
	router.Use(middleware.RecoveryWithLog())
	router.Use(monitoring.TracingMiddleware(cfg.ServiceName))
	if cfg.Monitoring != nil {
		router.Use(cfg.Monitoring.MetricsMiddleware())
		cfg.Monitoring.Register(router)
	}

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	handler := NewTaskHandler(cfg.TaskService)
	for _, prefix := range []string{"/tasks", "/api/tasks"} {
		group := router.Group(prefix)
		if cfg.RateLimiter != nil {
			group.Use(cfg.RateLimiter.FailedAuthMiddleware())
		}
		group.Use(middleware.Identity(cfg.Identity))
		if cfg.RateLimiter != nil {
			group.Use(cfg.RateLimiter.Middleware())
		}

		group.GET("", handler.ListTasks)
		group.POST("", handler.CreateTask)
		group.PUT("", handler.UpdateTask)
		group.DELETE("", handler.DeleteTask)
		group.GET("/stats", handler.GetStats)
		group.GET("/:id", handler.GetTask)
	}

	return router
}
