package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api/handlers"
	"github.com/civix/civix-api/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	a := handlers.App{}
	a.Config = *config.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Initialize(ctx); err != nil { //initialize database and router
		zap.S().Fatalw("failed to initialize", "error", err)
	}

	jobs := a.FeedbackScheduler()
	if err := jobs.Start(); err != nil {
		zap.S().Fatalw("failed to start scheduler", "error", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%v", a.Config.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zap.S().Infow("civix-api is up and running",
			"port", a.Config.Port,
			"url", a.Config.BaseURL,
			"workerId", a.Config.WorkerID,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	zap.S().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnw("failed to drain connections", "error", err)
	}
	jobs.Stop()
	if err := a.Close(shutdownCtx); err != nil {
		zap.S().Warnw("failed to close connections", "error", err)
	}
	_ = zap.L().Sync()
}
