package fake

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/BearBump/PharmBox/internal/models"
)

// FakeClient — детерминированная заглушка провайдера для локального запуска
// и тестов. Позиции и остатки зависят только от id провайдера.
type FakeClient struct {
	itemsPerProvider int
}

func New() *FakeClient { return &FakeClient{itemsPerProvider: 5} }

func (f *FakeClient) FetchSnapshot(ctx context.Context, p *models.InventoryProvider) ([]models.InventoryItemInput, error) {
	out := make([]models.InventoryItemInput, 0, f.itemsPerProvider)
	for i := 0; i < f.itemsPerProvider; i++ {
		ext := fmt.Sprintf("FAKE-%d-%d", p.ID, i)

		h := fnv.New32a()
		_, _ = h.Write([]byte(ext))
		v := h.Sum32()

		// 20% позиций считаем отсутствующими на складе.
		qty := int64(v%97) + 1
		inStock := v%5 != 0
		if !inStock {
			qty = 0
		}

		ndc := fmt.Sprintf("%05d-%04d-%02d", v%100000, v%10000, v%100)
		out = append(out, models.InventoryItemInput{
			ExternalID:       ext,
			NDCCode:          &ndc,
			Name:             fmt.Sprintf("fake medication %d", i),
			Quantity:         qty,
			Unit:             "tablet",
			PriceCents:       int64(v%9000) + 100,
			WholesaleCents:   int64(v%5000) + 50,
			RetailCents:      int64(v%12000) + 150,
			InStock:          inStock,
			ReorderThreshold: 10,
		})
	}
	return out, nil
}
