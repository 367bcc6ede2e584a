// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/domain/ports/adapter"
	"schematic-pipeline/internal/domain/ports/repository"
	"schematic-pipeline/internal/infra/adapters/generator"
	"schematic-pipeline/internal/infra/api"
	pg "schematic-pipeline/internal/infra/db/postgres"
	httpserver "schematic-pipeline/internal/infra/http"
	"schematic-pipeline/internal/infra/logging"
	"schematic-pipeline/internal/infra/metrics"
	"schematic-pipeline/internal/infra/rabbitmq"
	red "schematic-pipeline/internal/infra/redis"
	"schematic-pipeline/internal/infra/scheduler"
	"schematic-pipeline/internal/infra/storage"
	"schematic-pipeline/internal/infra/worker"
	"schematic-pipeline/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	roleAPI    = "api"
	roleWorker = "worker"
	roleAll    = "all"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, local generator)")
	role := flag.String("role", roleAll, "process role: api | worker | all")
	flag.Parse()

	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	switch *role {
	case roleAPI, roleWorker, roleAll:
		cfg.Runtime.Role = *role
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	withRole := logger.With().Str("role", cfg.Runtime.Role).Logger()
	logger = &withRole
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exiting")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Runtime.Role)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	jobRepo := pg.NewJobRepoCacheDecorator(
		pg.NewJobRepo(pool, pg.NewTxManager(pool)),
		redisClient, cfg.Redis.CacheTTL, logger,
	)

	// ---- Queue ----
	queue, closeQueue, err := openQueue(ctx, cfg, redisClient, logger)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	defer closeQueue()

	var servers []*httpserver.Server
	errc := make(chan error, 3)

	// ---- API role ----
	if cfg.Runtime.Role != roleWorker {
		jobUC := usecase.NewJobUseCase(jobRepo, queue, cfg.Intake.MaxPromptLength, logger)
		srv := api.NewServer(jobUC, cfg.HTTP.MaxBodyBytes, cfg.HTTP.WriteTimeout, logger)
		servers = append(servers, httpserver.NewServer("api", cfg.HTTP.Port, srv.Router(), cfg.HTTP, logger))
	}

	// ---- Worker role ----
	var shutdownWorker func(context.Context)
	if cfg.Runtime.Role != roleAPI {
		shutdownWorker, err = startWorker(ctx, cfg, jobRepo, queue, errc, logger)
		if err != nil {
			return err
		}
		if cfg.Runtime.Role == roleWorker {
			servers = append(servers, httpserver.NewServer("admin", cfg.Admin.Port, api.AdminHandler(logger), cfg.HTTP, logger))
		}
	}

	for _, s := range servers {
		s := s
		go func() {
			if err := s.Start(); err != nil {
				errc <- err
			}
		}()
	}

	// ---- Graceful shutdown ----
	var failure error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case failure = <-errc:
		logger.Error().Err(failure).Msg("component failed; shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Str("addr", s.Addr()).Msg("server shutdown")
		}
	}
	if shutdownWorker != nil {
		shutdownWorker(shutdownCtx)
	}
	if failure != nil {
		return failure
	}
	logger.Info().Msg("bye")
	return nil
}

// openQueue connects the configured work queue driver.
func openQueue(ctx context.Context, cfg *config.Config, redisClient *red.Client, logger *zerolog.Logger) (adapter.WorkQueue, func(), error) {
	switch cfg.Queue.Driver {
	case "amqp":
		q, err := rabbitmq.Dial(cfg.Queue, cfg.Runtime.Role != roleAPI, logger)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	default:
		q := red.NewWorkQueue(redisClient, cfg.Queue, logger)
		if err := q.EnsureGroup(ctx); err != nil {
			return nil, nil, err
		}
		return q, func() {}, nil
	}
}

// startWorker wires the generator, sink and processor and starts consuming.
// A queue that can no longer deliver is reported on errc. The returned func
// stops receiving, then waits for in-flight jobs until ctx expires; jobs
// still running after that are abandoned unacked.
func startWorker(ctx context.Context, cfg *config.Config, jobs repository.JobRepository, queue adapter.WorkQueue, errc chan<- error, logger *zerolog.Logger) (func(context.Context), error) {
	genCfg := cfg.Generator
	if cfg.Runtime.Dev {
		genCfg.Local = true
	}
	gen, err := generator.New(genCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	sink, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	monitor := usecase.NewMonitorUseCase(jobs, cfg.Monitor.StaleAfter, cfg.Monitor.Limit, logger)
	sched := scheduler.NewScheduler(cfg.Monitor.Interval, monitor, logger)
	sched.Start(context.Background())

	workCtx, abandon := context.WithCancel(context.Background())
	recvCtx, stopReceiving := context.WithCancel(ctx)

	pool := worker.NewPool(cfg.Worker.Concurrency, logger)
	pool.Start(workCtx)
	processor := worker.NewJobProcessor(jobs, gen, sink, cfg.Worker.JobTimeout, cfg.Worker.StatusTimeout, logger)

	received := make(chan struct{})
	go func() {
		defer close(received)
		if err := processor.Start(recvCtx, queue, pool); err != nil {
			errc <- fmt.Errorf("worker: %w", err)
		}
	}()

	return func(drainCtx context.Context) {
		stopReceiving()
		<-received
		sched.Stop()

		drained := make(chan struct{})
		go func() {
			pool.Stop()
			close(drained)
		}()
		select {
		case <-drained:
			logger.Info().Msg("worker drained")
		case <-drainCtx.Done():
			logger.Warn().Msg("drain timeout; abandoning in-flight jobs")
			abandon()
			<-drained
		}
		abandon()
	}, nil
}
