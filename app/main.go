package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/idx-relay/app/api"
	"github.com/lysyi3m/idx-relay/app/cfg"
	"github.com/lysyi3m/idx-relay/app/database"
	"github.com/lysyi3m/idx-relay/app/discord"
	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/idx"
	"github.com/lysyi3m/idx-relay/app/metrics"
	"github.com/lysyi3m/idx-relay/app/tasks"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitHalted = 2

	metricsJob = "idx_relay"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFatal
	}
	if appCfg == nil {
		return exitOK
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting IDX Relay",
		"version", appCfg.Version,
		"command", appCfg.Command,
		"fetch_mode", appCfg.FetchMode,
		"db_driver", appCfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(database.Options{
		Driver:   appCfg.DBDriver,
		Path:     appCfg.DBPath,
		Host:     appCfg.DBHost,
		Port:     appCfg.DBPort,
		User:     appCfg.DBUser,
		Password: appCfg.DBPassword,
		Name:     appCfg.DBName,
		SSLMode:  appCfg.DBSSLMode,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return exitFatal
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return exitFatal
	}
	slog.Debug("Database migrations applied", "version", version, "dirty", dirty)

	ledger := database.NewLedgerRepository(db)
	m := metrics.New()

	switch appCfg.Command {
	case cfg.CommandCleanup:
		return runCleanup(ctx, appCfg, ledger, m)
	case cfg.CommandServe:
		return runServer(ctx, appCfg, ledger, m)
	default:
		return runOnce(ctx, appCfg, ledger, m)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// stdout carries the run result
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runOnce(ctx context.Context, appCfg *cfg.Cfg, ledger database.Ledger, m *metrics.Metrics) int {
	topics, err := feed.LoadTopics(appCfg.TopicsFile)
	if err != nil {
		slog.Error("Failed to load topics", "error", err)
		return exitFatal
	}

	runner, err := newRunner(appCfg, topics, ledger, m)
	if err != nil {
		slog.Error("Failed to initialize runner", "error", err)
		return exitFatal
	}

	result, runErr := runner.Run(ctx)
	pushMetrics(appCfg, m)

	if err := json.NewEncoder(os.Stdout).Encode(api.NewRunResponse(result, runErr)); err != nil {
		slog.Error("Failed to write run result", "error", err)
	}

	return exitCode(runErr)
}

func runCleanup(ctx context.Context, appCfg *cfg.Cfg, ledger database.Ledger, m *metrics.Metrics) int {
	task := tasks.NewCleanupTask(appCfg.RetentionDays, ledger, m, time.Now)
	task.Start()

	if err := task.Execute(ctx); err != nil {
		slog.Error("Cleanup failed", "error", err)
		return exitFatal
	}

	pushMetrics(appCfg, m)
	fmt.Fprintf(os.Stdout, "{\"deleted\":%d}\n", task.Deleted)
	return exitOK
}

func runServer(ctx context.Context, appCfg *cfg.Cfg, ledger database.Ledger, m *metrics.Metrics) int {
	topics, err := feed.LoadTopics(appCfg.TopicsFile)
	if err != nil {
		slog.Error("Failed to load topics", "error", err)
		return exitFatal
	}

	run := func(ctx context.Context) (*tasks.RunResult, error) {
		runner, err := newRunner(appCfg, topics, ledger, m)
		if err != nil {
			return nil, err
		}
		return runner.Run(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(run, topics, m, appCfg.Version)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	scheduler := tasks.NewScheduler(appCfg.RunInterval, func(ctx context.Context) bool {
		response, ok := handler.Trigger(ctx)
		if ok {
			pushMetrics(appCfg, m)
			slog.Info("Scheduled run finished", "run_id", response.RunID, "state", response.State)
		}
		return ok
	})
	scheduler.Start()

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	exit := exitOK
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
		exit = exitFatal
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return exit
}

func newRunner(appCfg *cfg.Cfg, topics *feed.Topics, ledger database.Ledger, m *metrics.Metrics) (*tasks.Runner, error) {
	var intermediary *idx.IntermediaryConfig
	if idx.Mode(appCfg.FetchMode) == idx.ModeIntermediary {
		config, err := idx.ParseIntermediaryConfig(appCfg.IntermediaryConfig)
		if err != nil {
			return nil, err
		}
		intermediary = config
	}

	client, err := idx.NewClient(idx.Options{
		BaseURL:      appCfg.IDXAPIURL,
		Mode:         idx.Mode(appCfg.FetchMode),
		ProxyURL:     appCfg.ProxyURL,
		Intermediary: intermediary,
		Timeout:      appCfg.FetchTimeout,
		UserAgent:    appCfg.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create IDX client: %w", err)
	}

	transport, err := discord.NewTransport(appCfg.DiscordToken, appCfg.DiscordGuildID)
	if err != nil {
		return nil, err
	}

	return tasks.NewRunner(tasks.RunnerDeps{
		Fetcher:   client,
		Transport: transport,
		Ledger:    ledger,
		Topics:    topics,
		Metrics:   m,
	}, tasks.RunnerOptions{
		PageSize:       appCfg.PageSize,
		LookbackDays:   appCfg.LookbackDays,
		Location:       appCfg.Location,
		StartupTimeout: appCfg.StartupTimeout,
		FetchAttempts:  appCfg.FetchAttempts,
		PacingDelay:    appCfg.PacingDelay,
		TopicDelay:     appCfg.TopicDelay,
		CleanupDays:    appCfg.CleanupDays,
	}), nil
}

func pushMetrics(appCfg *cfg.Cfg, m *metrics.Metrics) {
	if appCfg.PushgatewayURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Push(ctx, appCfg.PushgatewayURL, metricsJob); err != nil {
		slog.Warn("Failed to push metrics", "error", err)
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, tasks.ErrStartupFailure),
		errors.Is(err, tasks.ErrUpstreamBlocked),
		errors.Is(err, tasks.ErrUpstreamFailure):
		return exitHalted
	default:
		return exitFatal
	}
}
