package resthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/PharmBox/internal/integrations/provider"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/pkg/errors"
)

// Client — адаптер для провайдеров с REST-фидом вида
// GET {base_url}/v1/inventory -> {"status":"ok","items":[...]}.
// Каждую позицию сохраняем и как сырой blob, и как нормализованную проекцию.
type Client struct {
	httpc *http.Client
}

var _ provider.Client = (*Client)(nil)

func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpc: &http.Client{Timeout: timeout},
	}
}

type feedItem struct {
	SKU       string   `json:"sku"`
	NDC       *string  `json:"ndc,omitempty"`
	Name      string   `json:"name"`
	Quantity  int64    `json:"quantity"`
	Unit      string   `json:"unit"`
	Price     int64    `json:"price_cents"`
	Wholesale int64    `json:"wholesale_cents"`
	Retail    int64    `json:"retail_cents"`
	InStock   *bool    `json:"in_stock,omitempty"`
	Reorder   int64    `json:"reorder_threshold"`
}

type feedResp struct {
	Status string            `json:"status"`
	Items  []json.RawMessage `json:"items"`
}

func (c *Client) FetchSnapshot(ctx context.Context, p *models.InventoryProvider) ([]models.InventoryItemInput, error) {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/inventory"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(models.ErrExternalProvider, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Wrap(models.ErrExternalProvider, fmt.Sprintf("provider %q http %d", p.Name, resp.StatusCode))
	}

	var r feedResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(models.ErrExternalProvider, errors.Wrap(err, "decode feed").Error())
	}
	if r.Status != "ok" {
		return nil, errors.Wrap(models.ErrExternalProvider, fmt.Sprintf("provider %q status=%s", p.Name, r.Status))
	}

	out := make([]models.InventoryItemInput, 0, len(r.Items))
	for _, raw := range r.Items {
		var fi feedItem
		if err := json.Unmarshal(raw, &fi); err != nil {
			return nil, errors.Wrap(models.ErrExternalProvider, errors.Wrap(err, "decode feed item").Error())
		}
		if fi.SKU == "" {
			continue
		}

		inStock := fi.Quantity > 0
		if fi.InStock != nil {
			inStock = *fi.InStock
		}

		out = append(out, models.InventoryItemInput{
			ExternalID:       fi.SKU,
			NDCCode:          fi.NDC,
			Name:             fi.Name,
			Quantity:         fi.Quantity,
			Unit:             fi.Unit,
			PriceCents:       fi.Price,
			WholesaleCents:   fi.Wholesale,
			RetailCents:      fi.Retail,
			InStock:          inStock,
			ReorderThreshold: fi.Reorder,
			RawPayload:       raw,
		})
	}
	return out, nil
}
