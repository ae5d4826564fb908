package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/nhasan-dev/bazar-orders-service/internal/application"
	"github.com/nhasan-dev/bazar-orders-service/internal/config"
	"github.com/nhasan-dev/bazar-orders-service/internal/gateway"
	"github.com/nhasan-dev/bazar-orders-service/internal/kafka"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
	"github.com/nhasan-dev/bazar-orders-service/internal/migrate"
	"github.com/nhasan-dev/bazar-orders-service/internal/presentation"
	"github.com/nhasan-dev/bazar-orders-service/internal/repository"
)

func main() {
	_ = godotenv.Load()
	logger.Init()
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Warn("config load failed", "err", err)
		os.Exit(1)
	}

	if err := migrate.Up(context.Background(), cfg.DB_STRING); err != nil {
		logger.Warn("migrations failed", "err", err)
		os.Exit(1)
	}

	// DB pool
	pool, err := pgxpool.New(context.Background(), cfg.DB_STRING)
	if err != nil {
		logger.Warn("pgxpool new failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Warn("db ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("db connected")

	// Kafka producer for order lifecycle events
	prod := kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.KAFKA_TOPIC)
	defer prod.Close()

	// Wiring
	repo := repository.NewOrderRepository(pool)
	svc := application.NewOrdersService(repo, prod, cfg.GATEWAY_RETURN_APPLIES)
	verifier := gateway.NewSSLCommerzClient(cfg.SSLCZ_VALIDATOR_URL, cfg.SSLCZ_STORE_ID, cfg.SSLCZ_STORE_PASSWD, cfg.SSLCZ_TIMEOUT)
	reconciler := application.NewReconciler(svc, verifier)

	// Notification worker fed from the order-events topic
	_, _ = kafka.StartConsumer(
		context.Background(),
		application.NewNotifier(),
		kafka.ConsumerConfig{
			Brokers: cfg.KAFKA_BROKERS,
			Topic:   cfg.KAFKA_TOPIC,
			GroupID: cfg.KAFKA_GROUP_ID,
		},
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API
	h := presentation.NewOrdersHandler(svc, reconciler)
	h.Register(r)

	addr := ":" + cfg.HTTP_PORT
	logger.Info("starting http", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Warn("http server crashed", "err", err)
		os.Exit(1)
	}
}
