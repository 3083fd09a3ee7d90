package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/PharmBox/config"
	"github.com/BearBump/PharmBox/internal/broker/kafka"
	"github.com/BearBump/PharmBox/internal/cache/rediscache"
	"github.com/BearBump/PharmBox/internal/integrations/provider"
	"github.com/BearBump/PharmBox/internal/integrations/provider/fake"
	"github.com/BearBump/PharmBox/internal/integrations/provider/resthttp"
	"github.com/BearBump/PharmBox/internal/metrics"
	"github.com/BearBump/PharmBox/internal/notify"
	"github.com/BearBump/PharmBox/internal/services/inventory"
	"github.com/BearBump/PharmBox/internal/services/orders"
	"github.com/BearBump/PharmBox/internal/services/prescriptions"
	"github.com/BearBump/PharmBox/internal/services/refills"
	"github.com/BearBump/PharmBox/internal/services/syncer"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
)

// workerStorage — всё, что воркер требует от хранилища. pgpharm.Storage
// покрывает целиком; в тестах подменяется фейком.
type workerStorage interface {
	inventory.Repository
	prescriptions.Repository
	orders.Repository
	orders.Catalog
	refills.SchedulerRepository
	syncer.Repository
}

type workerFactories struct {
	newStorage        func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newProducer       func(cfg *config.Config) notify.Producer
	newRateLimiter    func(cfg *config.Config) syncer.RateLimiter
	newProviderClient func(cfg *config.Config) provider.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgpharm.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) notify.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newProviderClient: func(cfg *config.Config) provider.Client {
			// Для демо без живых фидов — локальный fake.
			if cfg.PharmBox.ProviderClientMode == "rest" {
				timeout := time.Duration(cfg.PharmBox.SyncFetchTimeoutSeconds) * time.Second
				return resthttp.New(timeout)
			}
			return fake.New()
		},
	}
}

type workerApp struct {
	syncer    *syncer.Syncer
	scheduler *refills.Scheduler
	metrics   *metrics.Metrics
	cfg       *config.Config
	closeFn   func()
}

func buildPharmWorker(cfg *config.Config, f workerFactories) (*workerApp, error) {
	topic := cfg.Kafka.NotificationsTopicName
	if topic == "" {
		topic = "pharm.notifications"
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	queuer := notify.NewKafkaQueuer(f.newProducer(cfg), topic)

	invSvc := inventory.New(st)
	rxSvc := prescriptions.New(st, queuer)
	ordSvc := orders.New(st, rxSvc, invSvc, st, nil, 0)

	client := provider.NewBreakerClient(f.newProviderClient(cfg), "provider-feed")

	sc := syncer.New(st, invSvc, client, f.newRateLimiter(cfg)).
		WithSettings(
			time.Duration(cfg.PharmBox.SyncPollIntervalSeconds)*time.Second,
			cfg.PharmBox.SyncBatchSize,
			cfg.PharmBox.SyncConcurrency,
			time.Duration(cfg.PharmBox.SyncLeaseSeconds)*time.Second,
			int64(cfg.PharmBox.SyncRateLimitPerMinute),
		).
		WithFetchTimeout(time.Duration(cfg.PharmBox.SyncFetchTimeoutSeconds) * time.Second).
		WithQueuer(queuer).
		WithMetrics(m)

	sched := refills.NewScheduler(st, rxSvc, invSvc, st, ordSvc, queuer).
		WithSettings(
			time.Duration(cfg.PharmBox.RefillPollIntervalSeconds)*time.Second,
			cfg.PharmBox.RefillBatchSize,
		).
		WithPlanner(refills.PlannerConfig{DefaultIntervalDays: int32(cfg.PharmBox.RefillDefaultIntervalDays)}).
		WithMetrics(m)

	return &workerApp{
		syncer:    sc,
		scheduler: sched,
		metrics:   m,
		cfg:       cfg,
		closeFn:   closeFn,
	}, nil
}

func RunPharmWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	app, err := buildPharmWorker(cfg, f)
	if err != nil {
		return err
	}
	if app.closeFn != nil {
		defer app.closeFn()
	}

	errCh := make(chan error, 3)
	go func() { errCh <- app.syncer.Run(ctx) }()
	go func() { errCh <- app.scheduler.Run(ctx) }()
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:  cfg.PharmBox.WorkerHTTPAddr,
			syncer:    app.syncer,
			scheduler: app.scheduler,
			metrics:   app.metrics,
			cfg:       cfg,
		})
	}()

	return <-errCh
}
