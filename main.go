package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/monitoring"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := monitoring.SetupTracing(ctx, monitoring.TracingConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		log.Printf("[otel] tracing disabled: %v", err)
	}

	app, err := newApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	app.start(ctx)

	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Server listening on %s (%s)", srv.Addr, cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"taskboard": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				if err := app.shutdown(ctx, srv); err != nil {
					return err
				}
				return shutdownTracing(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}
