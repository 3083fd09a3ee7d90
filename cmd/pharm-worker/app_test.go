package main

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PharmBox/config"
	"github.com/BearBump/PharmBox/internal/integrations/provider/fake"
	"github.com/BearBump/PharmBox/internal/integrations/provider/resthttp"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/notify"
	"github.com/BearBump/PharmBox/internal/services/syncer"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct{}

func (fakeStorage) ReplaceProviderItems(ctx context.Context, providerID int64, items []models.InventoryItemInput, syncedAt time.Time) (int, error) {
	return 0, nil
}
func (fakeStorage) ListActiveMappings(ctx context.Context, medicationID int64) ([]*models.MappingWithItem, error) {
	return nil, nil
}
func (fakeStorage) GetMapping(ctx context.Context, id int64) (*models.InventoryMapping, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) PromoteMapping(ctx context.Context, mappingID int64) (*models.InventoryMapping, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) CreateMapping(ctx context.Context, in pgpharm.MappingInsert) (*models.InventoryMapping, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) DeactivateMapping(ctx context.Context, mappingID int64) (*models.InventoryMapping, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) CreateProvider(ctx context.Context, in pgpharm.ProviderInsert) (*models.InventoryProvider, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) GetProvider(ctx context.Context, id int64) (*models.InventoryProvider, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) RefreshProvider(ctx context.Context, id int64) error { return nil }
func (fakeStorage) CreatePrescription(ctx context.Context, in models.PrescriptionCreateInput) (*models.Prescription, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) GetPrescription(ctx context.Context, id int64) (*models.Prescription, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) VerifyPrescription(ctx context.Context, id, reviewerID int64) (*models.Prescription, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) RevokePrescription(ctx context.Context, id int64) (*models.Prescription, []*models.Order, error) {
	return nil, nil, models.ErrNotFound
}
func (fakeStorage) CreateOrder(ctx context.Context, in pgpharm.OrderInsert) (*models.Order, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) ListOrdersByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Order, error) {
	return nil, nil
}
func (fakeStorage) TransitionOrder(ctx context.Context, orderID int64, from, to string, version int32, ship *models.ShipmentInput) (*models.Order, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) GetMedication(ctx context.Context, id int64) (*models.Medication, error) {
	return nil, models.ErrNotFound
}
func (fakeStorage) ListDueRefills(ctx context.Context, now time.Time, limit int) ([]*models.RefillRequest, error) {
	return nil, nil
}
func (fakeStorage) AdvanceRefill(ctx context.Context, id int64, now, nextRefillAt time.Time) (*models.RefillRequest, bool, error) {
	return nil, false, nil
}
func (fakeStorage) ClaimDueProviders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.InventoryProvider, error) {
	return nil, nil
}
func (fakeStorage) MarkProviderSyncError(ctx context.Context, id int64, errMsg string, nextSyncAt time.Time) error {
	return nil
}

type noopProducer struct{}

func (noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func TestDefaultWorkerFactories_SelectProviderClient(t *testing.T) {
	f := defaultWorkerFactories()

	cfgRest := &config.Config{
		PharmBox: config.PharmBoxConfig{ProviderClientMode: "rest", SyncFetchTimeoutSeconds: 10},
	}
	c1 := f.newProviderClient(cfgRest)
	_, ok := c1.(*resthttp.Client)
	require.True(t, ok)

	cfgFake := &config.Config{
		PharmBox: config.PharmBoxConfig{ProviderClientMode: "fake"},
	}
	c2 := f.newProviderClient(cfgFake)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)

	// пустой режим тоже падает в fake
	c3 := f.newProviderClient(&config.Config{})
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_ProducerAndRateLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestRunPharmWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			return fakeStorage{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) notify.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			return nil
		},
		newProviderClient: defaultWorkerFactories().newProviderClient,
	}

	cfg := &config.Config{
		Kafka: config.KafkaConfig{NotificationsTopicName: "t"},
		PharmBox: config.PharmBoxConfig{
			SyncPollIntervalSeconds:   1,
			RefillPollIntervalSeconds: 1,
			WorkerHTTPAddr:            "127.0.0.1:0",
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunPharmWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestRunWorkerHTTPServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(addr string) { addrCh <- addr },
		})
	}()

	select {
	case <-addrCh:
	case <-time.After(time.Second):
		t.Fatal("server did not start listening")
	}

	cancel()
	select {
	case err := <-errCh:
		// остановка по контексту — не ErrServerClosed наружу
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
