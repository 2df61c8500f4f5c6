package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/config"
	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/application"
	resHTTP "github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/infrastructure/http"
	resKafka "github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/infrastructure/kafka"
	resDB "github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/infrastructure/postgres"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/idempotency"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/logging"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/outbox"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/shutdown"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/tracing"
)

func main() {
	cfg := config.FromEnv()
	log := logging.New(logging.ParseLevel(cfg.LogLevel))
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "reservation-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	if err := resDB.Migrate(cfg.PGURL); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)

	repo := resDB.NewRepository(log, pool, cfg.LockTimeout)
	catalog := resDB.NewCatalog(pool)

	engine := application.NewEngine(log, repo, catalog, application.EngineConfig{
		DefaultTTL:      cfg.DefaultTTL,
		MaxRetries:      cfg.ReserveRetries,
		RetryBackoff:    cfg.RetryBackoff,
		ExpireBatchSize: cfg.SweepBatchSize,
	})
	queries := application.NewQueries(log, repo, cfg.StaleAfter, cfg.VeryStaleAfter, cfg.SweepBatchSize)

	// Outbox relay
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaAddr),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()
	dispatch := outbox.NewDispatcher(log, writer, cfg.EventsTopic)
	relay := outbox.NewRelay(log, resDB.NewOutboxStore(log, pool), dispatch, "reservation-service-relay")
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped", "err", err)
		}
	}()

	// Expiry sweeper
	sweeper := application.NewSweeper(log, engine, cfg.SweepInterval)
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error("sweeper stopped", "err", err)
		}
	}()

	// Payment events -> confirm
	consumer := resKafka.NewConsumer(log, []string{cfg.KafkaAddr}, cfg.PaymentsTopic, cfg.ConsumerGroup, engine, idem)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	handler := resHTTP.NewHandler(log, engine, queries, idem)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler.Routes()}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("reservation-service shutdown")
}
