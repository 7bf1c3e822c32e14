// Command worker runs the job scheduler without the HTTP surface. It is
// meant for horizontal scaling: several workers share one postgres
// queue, each claiming jobs with row locks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/batch"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/providers/prompt"
	"server/internal/providers/render"
	"server/internal/scheduler"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required: the standalone worker only makes sense against a shared postgres queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	st := repo.NewStore(infra.NewSQLRunner(dbpool, logger))

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

	// Worker processes have no websocket clients of their own; events
	// published here fan out to nobody, which the bus tolerates.
	bus := notify.NewBus(logger)
	defer bus.Close()

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
	logger.Info().Int("slots", cfg.WorkerSlots).Msg("worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sched.Stop()
	logger.Info().Msg("worker stopped")
}
