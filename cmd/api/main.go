package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	appanalysis "github.com/bryanwahyu/automaton-lint/internal/application/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/config"
	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-lint/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/automaton-lint/internal/infra/db/mysql"
	"github.com/bryanwahyu/automaton-lint/internal/infra/db/postgres"
	"github.com/bryanwahyu/automaton-lint/internal/infra/executor/process"
	"github.com/bryanwahyu/automaton-lint/internal/infra/git"
	"github.com/bryanwahyu/automaton-lint/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-lint/internal/infra/notify/slack"
	"github.com/bryanwahyu/automaton-lint/internal/infra/parser"
	minioStore "github.com/bryanwahyu/automaton-lint/internal/infra/storage"
	"github.com/bryanwahyu/automaton-lint/internal/infra/workspace"
	"github.com/bryanwahyu/automaton-lint/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := workspace.New(workspace.Config{
		Root:           cfg.Workspace.Root,
		MaxConcurrent:  cfg.Workspace.MaxConcurrent,
		MaxQueue:       cfg.Workspace.MaxQueue,
		AcquireTimeout: cfg.Workspace.AcquireTimeout,
		Retain:         cfg.Workspace.Retain,
	}, workspace.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	defer manager.Close()

	runner := process.NewRunner(process.WithDocker(cfg.Docker.Binary), process.WithLogger(logger))
	tools := cfg.ToolSpecs()

	checks := map[string]middleware.HealthChecker{
		"workspace_root": &middleware.WorkspaceHealthChecker{Root: manager},
	}
	for id, spec := range tools {
		if err := runner.Resolve(spec); err != nil {
			logger.Warn("tool not found", "tool", id, "error", err)
		}
		checks["tool:"+string(id)] = &middleware.ToolHealthChecker{Runner: runner, Spec: spec}
	}

	svc := &appanalysis.Service{
		Workspaces: manager,
		Fetcher: git.NewFetcher(git.Config{
			Binary:          cfg.Fetch.Binary,
			RecloneAttempts: *cfg.Fetch.RecloneAttempts,
			Timeout:         cfg.Fetch.Timeout,
		}, logger),
		Runner: runner,
		Aggregator: &appanalysis.Aggregator{
			Parsers:  parsers(tools),
			Priority: cfg.PriorityIDs(),
		},
		Tools:        tools,
		DefaultTools: cfg.DefaultToolIDs(),
		ToolTimeout:  cfg.ToolTimeout,
		Metrics:      middleware.AnalysisMetrics{},
		Background:   ctx,
		Logger:       logger,
	}

	// run history
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks["database"] = &middleware.DatabaseHealthChecker{DB: db}
		if cfg.Database.Driver == "postgres" {
			svc.Runs = postgres.NewRunRepository(db)
		} else {
			svc.Runs = mysqlp.NewRunRepository(db)
		}
	}

	// raw output archive
	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			logger.Warn("minio disabled", "endpoint", cfg.Minio.Endpoint, "error", err)
		} else {
			svc.Artifacts = store
		}
	}

	if cfg.OpenAI.APIKey != "" {
		svc.Summarizer = openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	}
	if cfg.Slack.WebhookURL != "" {
		svc.Notifier = slack.NewNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username)
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit.RPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.RPS)
		defer limiter.Close()
	}

	handler := httpserver.NewRouter(svc, httpserver.Options{
		Logger:          logger,
		APIKeys:         middleware.KeysFromList(cfg.Server.APIKeys),
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimiter:     limiter,
		Health:          checks,
		Readiness:       manager,
		Tools:           tools,
		AllowLocalRepos: cfg.Server.AllowLocalRepos,
		Slack: httpserver.SlashCommands{
			SigningSecret: cfg.Slack.SigningSecret,
			Command:       cfg.Slack.Command,
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("automaton-lint configuration",
		"workspace_root", cfg.Workspace.Root,
		"max_concurrent", cfg.Workspace.MaxConcurrent,
		"max_queue", cfg.Workspace.MaxQueue,
		"tools", len(tools),
		"history", svc.Runs != nil,
		"archive", svc.Artifacts != nil,
		"summaries", svc.Summarizer != nil,
		"notifications", svc.Notifier != nil,
		"slash_commands", cfg.Slack.SigningSecret != "")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// in-flight analyses keep their own context until Shutdown gives up
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	// background runs were canceled with ctx; let them record the outcome
	svc.Wait()
	return nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Database.Driver {
	case "":
		return nil, nil
	case "postgres":
		if db, err = postgres.Connect(ctx, cfg.PostgresDSN()); err == nil {
			err = postgres.EnsureSchema(ctx, db)
		}
	default:
		if db, err = mysqlp.Connect(ctx, cfg.MySQLDSN()); err == nil {
			err = mysqlp.EnsureSchema(ctx, db)
		}
	}
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("%s connect error: %w", cfg.Database.Driver, err)
	}
	return db, nil
}

// parsers picks each tool's parser by its configured format. Tools running
// in a container report paths under the mount point.
func parsers(tools map[domain.ToolID]domain.ToolSpec) appanalysis.ParserFactory {
	return func(id domain.ToolID, root string) (domain.Parser, error) {
		spec, ok := tools[id]
		if !ok {
			return nil, fmt.Errorf("no tool %q configured", id)
		}
		if spec.Image != "" {
			root = process.ContainerSrc
		}
		return parser.For(spec.Format, id, root)
	}
}
