// Command engine starts the micro-batch pattern-detection engine.
//
// It watches a directory for transaction chunk files produced by the external
// ingestion feed, evaluates three behavioral rules per batch against a Redis
// merchant counter and a frozen importance table, writes detections as
// partitioned CSV units, publishes detection events to Kafka, and advances a
// PostgreSQL checkpoint after every durable commit.
//
// Usage:
//
//	go run ./cmd/engine [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VenketeszRR/fraudlens/internal/batch"
	"github.com/VenketeszRR/fraudlens/internal/checkpoint"
	"github.com/VenketeszRR/fraudlens/internal/counter"
	"github.com/VenketeszRR/fraudlens/internal/detect"
	"github.com/VenketeszRR/fraudlens/internal/output"
	"github.com/VenketeszRR/fraudlens/internal/reference"
	"github.com/VenketeszRR/fraudlens/internal/watch"
	"github.com/VenketeszRR/fraudlens/pkg/config"
	"github.com/VenketeszRR/fraudlens/pkg/health"
	"github.com/VenketeszRR/fraudlens/pkg/kafka"
	"github.com/VenketeszRR/fraudlens/pkg/logger"
	"github.com/VenketeszRR/fraudlens/pkg/metrics"
	"github.com/VenketeszRR/fraudlens/pkg/postgres"
	"github.com/VenketeszRR/fraudlens/pkg/redis"
	"github.com/VenketeszRR/fraudlens/pkg/resilience"
)

// main loads configuration, loads the reference table, connects to Redis and
// PostgreSQL (all fatal on failure), wires the batch processor, and runs the
// ingestion watcher until SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting pattern engine",
		"stream", cfg.Engine.StreamID,
		"chunks_dir", cfg.Chunks.Dir,
		"trigger_interval", cfg.Engine.TriggerInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		slog.Error("failed to load reference data", "error", err)
		os.Exit(1)
	}

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to counter store", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to counter store", "addr", cfg.Redis.Addr)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	ckpt := checkpoint.NewManager(db, cfg.Engine.StreamID)
	if err := resilience.Retry(ctx, "checkpoint-schema", resilience.RetryConfig{}, func() error {
		return ckpt.EnsureSchema(ctx)
	}); err != nil {
		slog.Error("failed to ensure checkpoint schema", "error", err)
		os.Exit(1)
	}
	lastCommitted, resumed, err := ckpt.LastCommitted(ctx)
	if err != nil {
		slog.Error("failed to read checkpoint", "error", err)
		os.Exit(1)
	}
	if resumed {
		slog.Info("resuming after committed batch", "batch", lastCommitted)
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DetectionEvents)
		defer producer.Close()
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DetectionEvents)
	}

	m := metrics.New()

	store := counter.NewRedisStore(rdb, cfg.Redis.KeyPrefix, m)
	writer, err := output.NewWriter(cfg.Output.Dir, cfg.Engine.DetectionBatchSize, m)
	if err != nil {
		slog.Error("failed to prepare output directory", "error", err)
		os.Exit(1)
	}
	publisher := output.NewPublisher(producer)

	processor := batch.NewProcessor(store, ref, writer, publisher, ckpt, detect.Thresholds{
		MerchantTxnLimit: cfg.Engine.MerchantTxnLimit,
		AvgAmountLimit:   cfg.Engine.AvgAmountLimit,
		MinTxnCount:      cfg.Engine.MinTxnCount,
	}, m)

	watcher := watch.New(
		cfg.Chunks.Dir,
		cfg.Chunks.Pattern,
		cfg.Engine.TriggerInterval,
		lastCommitted,
		processor.Process,
		m,
	)

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		checker.Register("counter-store", func(ctx context.Context) health.ComponentHealth {
			if err := rdb.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := db.DB.PingContext(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		checker.Register("chunk-source", func(ctx context.Context) health.ComponentHealth {
			if _, err := os.Stat(cfg.Chunks.Dir); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: "frontier=" + watcher.Frontier(),
			}
		})
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, map[string]http.HandlerFunc{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	if err := watcher.Run(ctx); err != nil {
		slog.Error("engine stopped with fatal error", "error", err)
		os.Exit(1)
	}
	slog.Info("pattern engine stopped")
}
