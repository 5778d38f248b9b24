package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jervisd/jervis/app/api"
	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
	"github.com/jervisd/jervis/app/httpclient"
	"github.com/jervisd/jervis/app/indexer"
	"github.com/jervisd/jervis/app/notify"
	"github.com/jervisd/jervis/app/poller"
	"github.com/jervisd/jervis/app/ratelimit"
	"github.com/jervisd/jervis/app/source"
	"github.com/jervisd/jervis/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	if appCfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	slog.Info("Starting JERVIS", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	itemRepo := database.NewItemRepository(db)
	connRepo := database.NewConnectionRepository(db)
	taskRepo := database.NewTaskRepository(db)

	connCache := cfg.NewConnCache(appCfg.ConnectionsDir)
	if err := connCache.Run(); err != nil {
		slog.Error("Failed to load connection definitions", "dir", appCfg.ConnectionsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Connection definitions loaded", "count", connCache.GetConnCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registered := 0
	for name, def := range connCache.GetEnabledConns() {
		id, err := connRepo.UpsertConnection(ctx, def.Source, name, def.BaseURL)
		if err != nil {
			slog.Warn("Failed to register connection", "connection", name, "error", err)
			continue
		}
		slog.Info("Connection registered", "connection", name, "source", def.Source, "id", id)
		registered++
	}
	slog.Info("Connections registered", "count", registered)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		BurstRate:     appCfg.RateBurst,
		NormalRate:    appCfg.RateNormal,
		SustainedRate: appCfg.RateSustained,
		BurstRequests: appCfg.RateBurstRequests,
	})
	limiter.StartGC(ctx.Done())

	factory := httpclient.NewFactory(limiter)
	httpClient := factory.New(httpclient.Options{})

	feedClient := source.NewFeedClient(httpClient, appCfg.UserAgent)
	jiraClient := source.NewJiraClient(httpClient, appCfg.UserAgent)
	confluenceClient := source.NewConfluenceClient(httpClient, appCfg.UserAgent)
	gitClient := source.NewGitClient(appCfg.GitMirrorsDir)
	emailClient := source.NewEmailClient()

	clients := map[string]source.Client{
		cfg.SourceFeed:       feedClient,
		cfg.SourceJira:       jiraClient,
		cfg.SourceConfluence: confluenceClient,
		cfg.SourceGit:        gitClient,
		cfg.SourceEmail:      emailClient,
	}

	resolver := source.NewResolver(connCache, connRepo)
	emitter := tasks.NewEmitter(taskRepo)

	var sink notify.Sink = notify.NopSink{}
	if appCfg.NotifyURL != "" {
		sink = notify.NewWebhookSink(appCfg.NotifyURL, nil)
		slog.Info("Webhook notifications enabled", "url", appCfg.NotifyURL)
	}

	engineCfg := indexer.Config{
		BufferSize:   appCfg.BufferSize,
		WorkerCount:  appCfg.WorkerCount,
		LeaseTimeout: time.Duration(appCfg.LeaseTimeout) * time.Second,
	}
	adapters := []source.Adapter{
		source.NewGitAdapter(gitClient),
		source.NewJiraAdapter(jiraClient),
		source.NewConfluenceAdapter(confluenceClient),
		source.NewEmailAdapter(emailClient),
		source.NewFeedAdapter(feedClient),
	}
	engines := make([]*indexer.Engine, 0, len(adapters))
	for _, adapter := range adapters {
		engines = append(engines, indexer.NewEngine(adapter, itemRepo, connRepo,
			emitter, resolver, sink, engineCfg))
	}

	supervisor := indexer.NewSupervisor(engines...)
	go supervisor.Run(ctx)
	slog.Info("Indexing engines started", "engines", len(engines), "workers_each", engineCfg.WorkerCount)

	sweeper := indexer.NewSweeper(itemRepo, time.Duration(appCfg.SweepInterval)*time.Second)
	go sweeper.Run(ctx)

	itemPoller := poller.NewPoller(connRepo, itemRepo, resolver, clients, poller.Config{
		Interval:     time.Duration(appCfg.PollInterval) * time.Second,
		InitialDelay: time.Duration(appCfg.PollInitialDelay) * time.Second,
	})
	go itemPoller.Run(ctx)
	slog.Info("Poller started", "interval_seconds", appCfg.PollInterval)

	apiHandler := api.NewHandler(connCache, itemRepo, connRepo, taskRepo)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
