package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PharmBox/config"
	"github.com/BearBump/PharmBox/internal/api/pharmapi"
	"github.com/BearBump/PharmBox/internal/broker/kafka"
	"github.com/BearBump/PharmBox/internal/cache/rediscache"
	"github.com/BearBump/PharmBox/internal/notify"
	"github.com/BearBump/PharmBox/internal/services/inventory"
	"github.com/BearBump/PharmBox/internal/services/notifications"
	"github.com/BearBump/PharmBox/internal/services/orders"
	"github.com/BearBump/PharmBox/internal/services/prescriptions"
	"github.com/BearBump/PharmBox/internal/services/refills"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
)

type pharmAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     pharmAPIOpts
	api      *pharmapi.API
	ntf      *notifications.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapPharmAPI() *pharmAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.PharmBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PharmBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "pharm-api"
	}
	topic := cfg.Kafka.NotificationsTopicName
	if topic == "" {
		topic = "pharm.notifications"
	}
	cacheTTL := time.Duration(cfg.PharmBox.OrderTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
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
	queuer := notify.NewKafkaQueuer(kafka.NewProducer(brokers), topic)

	rxSvc := prescriptions.New(st, queuer)
	invSvc := inventory.New(st)
	ordSvc := orders.New(st, rxSvc, invSvc, st, rc, cacheTTL)
	refSvc := refills.NewService(st)
	ntfSvc := notifications.New(st, notify.LogDispatcher{})

	api := pharmapi.New(rxSvc, ordSvc, invSvc, refSvc, ntfSvc, st)

	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &pharmAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: pharmAPIOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		ntf:      ntfSvc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpharm.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpharm.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *pharmAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *pharmAPIApp) Run() error {
	return runPharmAPI(a.ctx, a.opts, a.api, a.ntf, a.consumer)
}
