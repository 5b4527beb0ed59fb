package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-asset-processing/config"
	"worker-asset-processing/constant"
	"worker-asset-processing/entities"
	jobHandler "worker-asset-processing/handler"
	"worker-asset-processing/pkg/monitor"
	"worker-asset-processing/pkg/rabbitmq"
	"worker-asset-processing/pkg/scheduler"
	"worker-asset-processing/pkg/tokenizer"
	"worker-asset-processing/repository"
	"worker-asset-processing/service"
)

const shutdownTimeout = 10 * time.Second

func RunWorker(cfg *config.Config) {
	workerID := uuid.NewString()
	ctx, cancel := signal.NotifyContext(setupLogger(cfg, workerID), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := tokenizer.New()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load tokenizer")
		return
	}

	repo, err := repository.NewRepo(cfg, tokens)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create job repository")
		return
	}

	events := newPublisher(ctx, cfg, workerID)
	assetService := service.NewService(
		repo,
		service.NewMediaPipeline(cfg.Media),
		service.NewTranscriber(cfg.OpenAI),
		events,
		cfg,
	)

	w := newWorker(cfg, workerID, repo, assetService, events)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.run(ctx)
	}()

	r := gin.Default()
	w.addRoutes(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down worker")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	wg.Wait()
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("worker shutdown")
}

// worker owns the dispatch state shared by the fetcher and the pool.
type worker struct {
	id      string
	cfg     *config.Config
	set     *scheduler.DispatchSet
	queue   chan entities.Job
	fetcher *scheduler.Fetcher
	pool    scheduler.Pool[jobHandler.ServiceDependencies]
	deps    jobHandler.ServiceDependencies
}

func newWorker(cfg *config.Config, workerID string, repo repository.JobRepository, assetService service.Service, events rabbitmq.Publisher) *worker {
	set := scheduler.NewDispatchSet()
	locks := scheduler.NewLockRegistry()
	queue := make(chan entities.Job, cfg.Scheduler.QueueCapacity)

	return &worker{
		id:      workerID,
		cfg:     cfg,
		set:     set,
		queue:   queue,
		fetcher: scheduler.NewFetcher(repo, set, queue, events, cfg.Scheduler),
		pool:    scheduler.NewPool(queue, set, locks, repo, events, cfg.Scheduler, jobHandler.JobHandler),
		deps:    jobHandler.ServiceDependencies{AssetService: assetService},
	}
}

// run blocks until ctx is cancelled and both loops have returned.
func (w *worker) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := w.pool.Consume(ctx, w.deps); err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("worker pool error")
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.fetcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("job fetcher error")
		}
	}()
	wg.Wait()
}

func (w *worker) addRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	r.GET("/stats", func(c *gin.Context) {
		body := gin.H{
			"workerId":      w.id,
			"workers":       w.cfg.Scheduler.Workers,
			"dispatched":    w.set.Len(),
			"queued":        len(w.queue),
			"queueCapacity": cap(w.queue),
		}
		stats, err := monitor.Stats(c.Request.Context())
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("failed to read host stats")
			body["hostError"] = err.Error()
		} else {
			body["cpuPercent"] = stats.CPUPercent
			body["ramPercent"] = stats.RAMPercent
		}
		c.JSON(200, body)
	})
}

func newPublisher(ctx context.Context, cfg *config.Config, workerID string) rabbitmq.Publisher {
	if cfg.Queue == nil {
		zerolog.Ctx(ctx).Info().Msg("RABBITMQ_HOST not set, job events disabled")
		return rabbitmq.NewNoopPublisher()
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue, "asset-processing-worker-"+workerID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn, job events disabled")
		return rabbitmq.NewNoopPublisher()
	}

	publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue, workerID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher, job events disabled")
		return rabbitmq.NewNoopPublisher()
	}
	return publisher
}

func setupLogger(cfg *config.Config, workerID string) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.App.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("worker_id", workerID).Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
