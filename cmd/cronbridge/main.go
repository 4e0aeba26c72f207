package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/cronbridge/internal/bootstrap"
	"github.com/jrjohn/cronbridge/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       envOr("CRONBRIDGE_LOG_LEVEL", "info"),
		Development: os.Getenv("CRONBRIDGE_APP_ENV") != "production",
		Encoding:    "json",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting cronbridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Run(ctx, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.RedisClient.Close()

	go func() {
		if err := app.Scheduler.Run(ctx); err != nil && err != context.Canceled {
			log.Error("scheduler loop stopped", zap.Error(err))
		}
	}()

	go serveHTTP(log, app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")
	cancel()

	log.Info("cronbridge shutdown complete")
}

func serveHTTP(log *zap.Logger, app *bootstrap.App) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","redis_circuit":%q}`, app.Store.CircuitState())
	})

	addr := ":" + envOr("CRONBRIDGE_METRICS_PORT", "9100")
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info("starting metrics server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server error", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
