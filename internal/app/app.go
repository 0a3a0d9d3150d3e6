// Package app constructs the service components from configuration and runs
// the API and worker processes.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/activity"
	"github.com/dharsanguruparan/ClockSheet/internal/api"
	"github.com/dharsanguruparan/ClockSheet/internal/config"
	"github.com/dharsanguruparan/ClockSheet/internal/database"
	"github.com/dharsanguruparan/ClockSheet/internal/filestore"
	"github.com/dharsanguruparan/ClockSheet/internal/jobs"
	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
	"github.com/dharsanguruparan/ClockSheet/internal/queue"
	"github.com/dharsanguruparan/ClockSheet/internal/repository"
	"github.com/dharsanguruparan/ClockSheet/internal/s3storage"
	"github.com/dharsanguruparan/ClockSheet/internal/scheduler"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
	"github.com/dharsanguruparan/ClockSheet/internal/signing"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
	"github.com/dharsanguruparan/ClockSheet/internal/strategy"
	"github.com/dharsanguruparan/ClockSheet/internal/worker"
)

// App holds every constructed component of one process.
type App struct {
	Config     *config.Config
	Log        *logrus.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Client     *sesame.Client
	Files      *filestore.Store
	Activities *activity.Cache
	Generator  *strategy.Generator
	Jobs       *jobs.Manager
	Archive    *s3storage.Storage

	pool *pgxpool.Pool
}

// Build wires the components. Postgres backs the stores when DATABASE_URL is
// set; otherwise they live in memory.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Client = sesame.New(sesame.Options{
		BaseURL:         cfg.BaseURL(),
		Token:           cfg.SesameToken,
		ConnectTimeout:  cfg.APIConnectTimeout,
		ReadTimeout:     cfg.APIReadTimeout,
		MaxRetries:      cfg.APIMaxRetries,
		Backoff:         cfg.APIBackoff,
		PoolSize:        cfg.APIPoolSize,
		RateLimit:       cfg.APIRateLimit,
		RateBurst:       cfg.APIRateBurst,
		BreakerFailures: cfg.BreakerFailures,
		Logger:          log,
		Metrics:         a.Metrics,
	})

	var (
		jobStore      jobs.Store
		activityStore activity.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		jobStore = repository.NewJobRepository(pool)
		activityStore = repository.NewActivityTypeRepository(pool)
	} else {
		log.Warn("DATABASE_URL not set, jobs and activity types are kept in memory")
		jobStore = storage.NewMemoryJobStore()
		activityStore = storage.NewMemoryActivityStore()
	}

	files, err := filestore.New(cfg.ReportsDir, cfg.MaxReports, log, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Files = files

	var archiver jobs.Archiver
	if cfg.ArchiveEnabled() {
		store, err := s3storage.New(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Archive = store
		archiver = store
	}

	a.Activities = activity.New(activityStore, a.Client, log, a.Metrics)
	a.Generator = strategy.NewGenerator(a.Client, a.Activities, strategy.Settings{
		PageSize:          cfg.APIPageSize,
		MaxPages:          cfg.MaxPages,
		Workers:           cfg.FetchWorkers,
		ChunkSize:         cfg.ChunkSize,
		Thresholds:        strategy.Thresholds{Records: cfg.RecordThreshold, Pages: cfg.PageThreshold},
		GenerationTimeout: cfg.GenerationTimeout,
	}, log, a.Metrics)
	a.Jobs = jobs.NewManager(jobStore, files, jobs.Options{
		Workers:       cfg.GenerationWorkers,
		CheckInterval: cfg.CancelPollInterval,
		MaxReports:    cfg.MaxReports,
		OrphanTimeout: cfg.OrphanTimeout,
		Retention:     cfg.JobRetention,
		LongRunning:   cfg.LongRunningThreshold,
		Archiver:      archiver,
		Logger:        log,
		Metrics:       a.Metrics,
	})
	return a, nil
}

// Work is the report generation step run for every job.
func (a *App) Work() jobs.Work {
	return jobs.ReportWork(a.Generator)
}

// Close releases the database pool and stops the job workers.
func (a *App) Close() {
	if a.Jobs != nil {
		a.Jobs.Shutdown()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// RunServer serves the HTTP API until ctx is done. In process mode it also
// runs the generation workers; the cleanup schedule runs in either mode.
func RunServer(ctx context.Context, a *App) error {
	var launcher api.Launcher
	if a.Config.QueueMode == config.QueueAsynq {
		client := asynq.NewClient(a.redisOpt())
		defer client.Close()
		launcher = queue.NewLauncher(client, a.Config.GenerationTimeout)
	} else {
		a.Jobs.StartWorkers(ctx)
		work := a.Work()
		launcher = api.LaunchFunc(func(ctx context.Context, id string) error {
			return a.Jobs.Start(ctx, id, work)
		})
	}

	cron := scheduler.New(a.Jobs, a.Config.CleanupSchedule, a.Log)
	if err := cron.Start(); err != nil {
		return err
	}
	defer cron.Stop()

	deps := api.Deps{
		Jobs:       a.Jobs,
		Launcher:   launcher,
		Files:      a.Files,
		Activities: a.Activities,
		Preview:    a.Generator,
		Directory:  a.Client,
		Signer:     signing.NewSigner(a.Config.SigningSecret),
		Metrics:    promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Logger:     a.Log,
	}
	if a.Archive != nil {
		deps.Archive = a.Archive
	}
	return api.New(a.Config, deps).Run(ctx)
}

// RunWorker consumes queued report jobs until ctx is done.
func RunWorker(ctx context.Context, a *App) error {
	server := asynq.NewServer(a.redisOpt(), asynq.Config{
		Concurrency: a.Config.GenerationWorkers,
		Logger:      a.Log,
	})
	processor := worker.NewProcessor(a.Jobs, a.Work(), a.Log)

	metricsServer := &http.Server{Addr: a.Config.Address, Handler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Log.WithError(err).Warn("worker metrics endpoint stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		server.Shutdown()
		_ = metricsServer.Close()
	}()
	a.Log.Info("worker started")
	return server.Run(processor.Handler())
}
