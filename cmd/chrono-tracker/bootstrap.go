package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayamte/chronogaz-tracking/config"
	"github.com/ayamte/chronogaz-tracking/internal/broker/kafka"
	"github.com/ayamte/chronogaz-tracking/internal/cache/rediscache"
	"github.com/ayamte/chronogaz-tracking/internal/services/livetrack"
	"github.com/ayamte/chronogaz-tracking/internal/storage/pgdelivery"
)

type trackerApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     trackerOpts
	svc      *livetrack.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapTracker() *trackerApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("erreur de chargement de la configuration: %v", err))
	}

	httpAddr := cfg.Tracking.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Tracking.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "chrono-tracker"
	}
	statusTopic := cfg.Kafka.StatusChangedTopicName
	if statusTopic == "" {
		statusTopic = "livraison.status.changed"
	}
	positionTopic := cfg.Kafka.PositionUpdatedTopicName
	if positionTopic == "" {
		positionTopic = "livraison.position.updated"
	}

	snapshotTTL := time.Duration(cfg.Tracking.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}
	terminalTTL := time.Duration(cfg.Tracking.TerminalKeyTTLSeconds) * time.Second

	movementThreshold := cfg.Tracking.MovementThresholdDegrees
	if movementThreshold <= 0 {
		movementThreshold = 1e-4
	}
	routeDebounceMs := cfg.Tracking.RouteDebounceMillis
	if routeDebounceMs <= 0 {
		routeDebounceMs = 500
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, statusTopic, consumerGroup)

	svc := livetrack.New(st, livetrack.NewRegistry()).
		WithCache(rc, snapshotTTL).
		WithProducer(producer, positionTopic, statusTopic).
		WithStaleGuard(cfg.Tracking.RejectStaleReports).
		WithTerminalKeyTTL(terminalTTL)
	if cfg.Tracking.PositionRateLimitPerMinute > 0 {
		svc = svc.WithRateLimiter(rediscache.NewRateLimiter(redisAddr), int64(cfg.Tracking.PositionRateLimitPerMinute))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &trackerApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackerOpts{
			httpAddr:          httpAddr,
			swaggerPath:       swaggerPath,
			statusTopic:       statusTopic,
			consumerGroup:     consumerGroup,
			movementThreshold: movementThreshold,
			routeDebounceMs:   routeDebounceMs,
		},
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdelivery.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdelivery.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackerApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.svc != nil {
		a.svc.Registry().Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *trackerApp) Run() error {
	return runTracker(a.ctx, a.opts, a.svc, a.consumer)
}
