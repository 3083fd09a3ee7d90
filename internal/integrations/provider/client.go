package provider

import (
	"context"

	"github.com/BearBump/PharmBox/internal/models"
)

// Client забирает у провайдера полный снапшот его инвентаря.
// Адаптер обязан вернуть нормализованные позиции; сырая форма фида
// остаётся в InventoryItemInput.RawPayload и наружу не выходит.
type Client interface {
	FetchSnapshot(ctx context.Context, p *models.InventoryProvider) ([]models.InventoryItemInput, error)
}
