package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/feastly/dispatch/internal/couriers"
	"github.com/feastly/dispatch/internal/dispatch"
	"github.com/feastly/dispatch/internal/domain"
	"github.com/feastly/dispatch/internal/mail"
	"github.com/feastly/dispatch/internal/notify"
	"github.com/feastly/dispatch/internal/orders"
	"github.com/feastly/dispatch/internal/payments"
	"github.com/feastly/dispatch/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tel, err := telemetry.Setup(ctx, "dispatch-api", "0.1.0")
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

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	brokers := strings.Split(kafkaBrokers, ",")

	eventsProducer := notify.NewProducer(brokers, domain.TopicClientEvents)
	defer func() { _ = eventsProducer.Close() }()
	placedProducer := notify.NewProducer(brokers, domain.TopicOrderPlaced)
	defer func() { _ = placedProducer.Close() }()

	notifier := notify.NewKafkaNotifier(eventsProducer, logger)

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}
	paymentsServiceURL := os.Getenv("PAYMENTS_SERVICE_URL")
	if paymentsServiceURL == "" {
		logger.Error("PAYMENTS_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	mailer := mail.NewClient(emailServiceURL, httpClient)
	paymentClient := payments.NewClient(paymentsServiceURL, httpClient)

	geo := couriers.NewLocationIndex(rdb)
	courierRepo := couriers.NewRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	assignmentRepo := dispatch.NewRepository(db)

	dispatchCfg := dispatch.Config{
		RadiusMeters:             envFloat("DISPATCH_RADIUS_METERS", dispatch.DefaultRadiusMeters),
		OfferTTL:                 envDuration("DISPATCH_OFFER_TTL", 0),
		StrictBroadcastExclusion: os.Getenv("DISPATCH_STRICT_BROADCAST_EXCLUSION") == "true",
	}

	orchestrator := dispatch.NewOrchestrator(dispatchCfg, geo, courierRepo, assignmentRepo, notifier, logger)
	resolver := dispatch.NewResolver(assignmentRepo, orderRepo, orderRepo, notifier, logger)
	otpService := orders.NewOTPService(orderRepo, mailer, assignmentRepo, logger)

	orderHandler := orders.NewHandler(orderRepo, otpService, orchestrator, paymentClient, notifier, placedProducer, logger)
	dispatchHandler := dispatch.NewHandler(assignmentRepo, resolver, orderRepo, geo, logger)
	courierHandler := couriers.NewHandler(courierRepo, geo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCreate))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /customers/{id}/orders", telemetry.WithHTTPRoute(orderHandler.HandleListByCustomer))
	mux.HandleFunc("GET /owners/{id}/orders", telemetry.WithHTTPRoute(orderHandler.HandleListByOwner))
	mux.HandleFunc("POST /payments/verify", telemetry.WithHTTPRoute(orderHandler.HandleVerifyPayment))
	mux.HandleFunc("PATCH /orders/{id}/shop-orders/{shopOrderID}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{id}/shop-orders/{shopOrderID}/delivery-code", telemetry.WithHTTPRoute(orderHandler.HandleSendOTP))
	mux.HandleFunc("POST /orders/{id}/shop-orders/{shopOrderID}/delivery-code/verify", telemetry.WithHTTPRoute(orderHandler.HandleVerifyOTP))

	mux.HandleFunc("PUT /couriers/{id}/location", telemetry.WithHTTPRoute(courierHandler.HandleUpdateLocation))
	mux.HandleFunc("PUT /couriers/{id}/connection", telemetry.WithHTTPRoute(courierHandler.HandleSetConnection))
	mux.HandleFunc("GET /couriers/{id}/deliveries/today", telemetry.WithHTTPRoute(courierHandler.HandleTodayStats))

	mux.HandleFunc("GET /couriers/{id}/offers", telemetry.WithHTTPRoute(dispatchHandler.HandleListOffers))
	mux.HandleFunc("GET /couriers/{id}/current-order", telemetry.WithHTTPRoute(dispatchHandler.HandleCurrentOrder))
	mux.HandleFunc("POST /assignments/{id}/accept", telemetry.WithHTTPRoute(dispatchHandler.HandleAccept))

	mux.Handle("GET /metrics", tel.MetricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "dispatch-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting dispatch api", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
