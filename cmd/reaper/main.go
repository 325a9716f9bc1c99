package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/feastly/dispatch/internal/couriers"
	"github.com/feastly/dispatch/internal/dispatch"
	"github.com/feastly/dispatch/internal/domain"
	"github.com/feastly/dispatch/internal/notify"
	"github.com/feastly/dispatch/internal/orders"
	"github.com/feastly/dispatch/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tel, err := telemetry.Setup(ctx, "dispatch-reaper", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = rdb.Close() }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	eventsProducer := notify.NewProducer(strings.Split(kafkaBrokers, ","), domain.TopicClientEvents)
	defer func() { _ = eventsProducer.Close() }()
	notifier := notify.NewKafkaNotifier(eventsProducer, logger)

	offerTTL := 2 * time.Minute
	if raw := os.Getenv("DISPATCH_OFFER_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			logger.Error("invalid DISPATCH_OFFER_TTL", "error", err, "value", raw)
			os.Exit(1)
		}
		offerTTL = parsed
	}

	interval := 30 * time.Second
	if raw := os.Getenv("REAPER_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			logger.Error("invalid REAPER_INTERVAL", "error", err, "value", raw)
			os.Exit(1)
		}
		interval = parsed
	}

	geo := couriers.NewLocationIndex(rdb)
	courierRepo := couriers.NewRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	assignmentRepo := dispatch.NewRepository(db)

	orchestrator := dispatch.NewOrchestrator(dispatch.Config{
		OfferTTL:                 offerTTL,
		StrictBroadcastExclusion: os.Getenv("DISPATCH_STRICT_BROADCAST_EXCLUSION") == "true",
	}, geo, courierRepo, assignmentRepo, notifier, logger)

	reaper := dispatch.NewReaper(offerTTL, assignmentRepo, orderRepo, orchestrator, logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting dispatch reaper", "offer_ttl", offerTTL.String(), "interval", interval.String())

	if err := reaper.Run(runCtx, interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reaper stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
}
