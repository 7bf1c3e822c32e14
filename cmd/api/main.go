package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/batch"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/providers/prompt"
	"server/internal/providers/render"
	"server/internal/scheduler"
	"server/internal/storage"
	"server/internal/store"
	"server/internal/store/memory"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// In-memory store is the single-instance default. A configured
	// DATABASE_URL switches to postgres so several instances can share
	// the queue.
	var st store.Store
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		st = repo.NewStore(infra.NewSQLRunner(dbpool, logger))
		logger.Info().Msg("using postgres store")
	} else {
		st = memory.New()
		logger.Info().Msg("using in-memory store")
	}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init file storage")
	}

	provider, err := render.NewClient(render.Options{
		APIKey:  cfg.RenderAPIKey,
		BaseURL: cfg.RenderBaseURL,
		Model:   cfg.RenderModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init render client")
	}

	bus := notify.NewBus(logger)
	defer bus.Close()
	hub := notify.NewHub(bus, logger)

	orch := batch.New(st, files, bus, logger,
		batch.WithMaxRows(cfg.MaxBatchRows),
		batch.WithAssetBaseURL(cfg.AssetBaseURL),
	)

	sched := scheduler.New(st, provider, prompt.NewResolver(nil), files, bus, logger,
		scheduler.WithConcurrency(cfg.WorkerSlots),
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithObserver(orch),
		scheduler.WithAssetBaseURL(cfg.AssetBaseURL),
	)
	orch.SetWaker(sched)

	sched.Start(ctx)
	defer sched.Stop()

	app := &handlers.App{
		Store:        st,
		Orchestrator: orch,
		Hub:          hub,
		Files:        files,
		Config:       cfg,
		Logger:       logger,
	}
	router := httpapi.NewRouter(app)

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
