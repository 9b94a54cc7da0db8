package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/api"
	"github.com/lysyi3m/samwatch/app/feed"
	"github.com/lysyi3m/samwatch/app/ingest"
	"github.com/lysyi3m/samwatch/app/tasks"
)

type ServeCommand struct {
	NoSweeps bool `long:"no-sweeps" description:"Only evaluate rules on schedule, without ingestion sweeps"`
}

func (c *ServeCommand) Execute(args []string) error {
	env, err := openEnvironment(!c.NoSweeps)
	if err != nil {
		return err
	}
	defer env.Close()

	config := env.cfg
	slog.Info("Starting SAMWatch server", "version", config.Version, "database", config.SQLitePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := env.syncRules(ctx, false)
	if err != nil {
		return err
	}
	slog.Info("Synced rules", "synced", result.Synced)

	engine := env.engine(alerts.NewDispatcher(
		alerts.WithConsole(stdout),
		alerts.WithUserAgent(config.UserAgent),
	))

	recorder := tasks.NewPrometheusRecorder()
	scheduler := tasks.NewScheduler(tasks.WithRecorder(recorder))

	jobs := []tasks.Job{tasks.AlertsJob(engine, config.AlertFrequency)}
	if !c.NoSweeps {
		planner, err := ingest.NewBackfillPlanner(config.BackfillDays)
		if err != nil {
			return err
		}
		pipeline := env.pipeline()
		jobs = append(jobs,
			tasks.HotSweepJob(pipeline, config.HotFrequency),
			tasks.WarmSweepJob(pipeline, config.WarmDays, config.WarmFrequency),
			tasks.ColdSweepJob(pipeline, planner, config.ColdFrequency),
		)
	}
	for _, job := range jobs {
		if err := scheduler.AddJob(job); err != nil {
			return err
		}
	}

	slog.Info("Starting background scheduler", "jobs", len(jobs))
	scheduler.Start(ctx)

	handler := api.NewHandler(env.db, env.opportunities, env.runs, env.rules, env.matches,
		feed.NewGenerator(config.BaseUrl, config.Port, config.Version), engine, scheduler, config.Version)

	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      api.NewServer(handler, config.APIAccessKey, recorder.Registry()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case serveErr = <-serverErrChan:
		slog.Error("Server error", "error", serveErr)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	cancel()
	scheduler.Stop()
	slog.Info("Background scheduler stopped")

	slog.Info("SAMWatch shutdown complete")
	return serveErr
}
