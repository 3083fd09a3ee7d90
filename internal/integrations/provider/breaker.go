package provider

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// BreakerClient оборачивает адаптер провайдера в circuit breaker:
// после серии фейлов провайдера перестаём его дёргать до таймаута,
// деградация остаётся локальной для этого провайдера.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerClient(inner Client, name string) *BreakerClient {
	return &BreakerClient{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (b *BreakerClient) FetchSnapshot(ctx context.Context, p *models.InventoryProvider) ([]models.InventoryItemInput, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.FetchSnapshot(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(models.ErrExternalProvider, err.Error())
	}
	if err != nil {
		return nil, err
	}
	return out.([]models.InventoryItemInput), nil
}
