package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/infra/db/postgres"
	"schematic-pipeline/internal/infra/logging"
	"schematic-pipeline/internal/infra/redis"
	"schematic-pipeline/internal/infra/storage"

	"github.com/joho/godotenv"
)

// setup prepares a fresh environment: schema, consumer group and artifact
// bucket or directory. Every step is idempotent.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Component(logging.New(cfg.Log, true), "setup")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger.Info().Msg("[1/3] Applying database schema...")
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	logger.Info().Str("driver", cfg.Queue.Driver).Msg("[2/3] Preparing work queue...")
	if cfg.Queue.Driver == "redis" {
		redisClient, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisClient.Close()
		if err := redis.NewWorkQueue(redisClient, cfg.Queue, logger).EnsureGroup(ctx); err != nil {
			logger.Fatal().Err(err).Msg("create consumer group")
		}
	} else {
		logger.Info().Msg("amqp queue is declared by the worker on connect")
	}

	logger.Info().Str("driver", cfg.Storage.Driver).Msg("[3/3] Preparing artifact storage...")
	switch cfg.Storage.Driver {
	case "minio":
		sink, err := storage.NewMinioSink(cfg.Storage, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("minio client")
		}
		if err := sink.EnsureBucket(ctx, cfg.Storage.Region); err != nil {
			logger.Fatal().Err(err).Msg("create bucket")
		}
	case "filesystem":
		sink, err := storage.NewFileSink(cfg.Storage.Path, cfg.Storage.Prefix, cfg.Storage.Extension)
		if err != nil {
			logger.Fatal().Err(err).Msg("file sink")
		}
		if err := sink.EnsureDir(); err != nil {
			logger.Fatal().Err(err).Msg("create storage directory")
		}
	}

	logger.Info().Msg("--- Environment setup complete ---")
}
