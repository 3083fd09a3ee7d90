package pgpharm

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS medications (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  ndc_code TEXT NULL,
  catalog_price_cents BIGINT NOT NULL DEFAULT 0,
  supply_interval_days INT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS prescriptions (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  doctor_name TEXT NULL,
  doctor_phone TEXT NULL,
  verification_status TEXT NOT NULL,
  revoked BOOLEAN NOT NULL DEFAULT FALSE,
  verified_by BIGINT NULL,
  notes TEXT NULL,
  uploaded_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_prescriptions_user_id ON prescriptions(user_id)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  status TEXT NOT NULL,
  prescription_id BIGINT NULL REFERENCES prescriptions(id),
  shipping_method TEXT NOT NULL DEFAULT '',
  shipping_cost_cents BIGINT NOT NULL DEFAULT 0,
  total_cents BIGINT NOT NULL DEFAULT 0,
  tracking_number TEXT NULL,
  carrier TEXT NULL,
  version INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_id ON orders(status, id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_prescription_id ON orders(prescription_id)`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  medication_id BIGINT NOT NULL REFERENCES medications(id),
  quantity BIGINT NOT NULL CHECK (quantity > 0),
  unit_price_cents BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`
CREATE TABLE IF NOT EXISTS inventory_providers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  base_url TEXT NOT NULL DEFAULT '',
  api_key TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  connection_status TEXT NOT NULL DEFAULT 'disconnected',
  sync_frequency_seconds INT NOT NULL DEFAULT 3600,
  sync_seq BIGINT NOT NULL DEFAULT 0,
  sync_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  last_sync_at TIMESTAMPTZ NULL,
  next_sync_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_providers_next_sync_at ON inventory_providers(next_sync_at)`,
		`
CREATE TABLE IF NOT EXISTS inventory_items (
  id BIGSERIAL PRIMARY KEY,
  provider_id BIGINT NOT NULL REFERENCES inventory_providers(id) ON DELETE CASCADE,
  external_id TEXT NOT NULL,
  ndc_code TEXT NULL,
  name TEXT NOT NULL DEFAULT '',
  quantity BIGINT NOT NULL DEFAULT 0,
  unit TEXT NOT NULL DEFAULT '',
  price_cents BIGINT NOT NULL DEFAULT 0,
  wholesale_cents BIGINT NOT NULL DEFAULT 0,
  retail_cents BIGINT NOT NULL DEFAULT 0,
  in_stock BOOLEAN NOT NULL DEFAULT FALSE,
  reorder_threshold BIGINT NOT NULL DEFAULT 0,
  raw_payload JSONB NULL,
  sync_seq BIGINT NOT NULL DEFAULT 0,
  last_updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (provider_id, external_id)
)`,
		`
CREATE TABLE IF NOT EXISTS inventory_mappings (
  id BIGSERIAL PRIMARY KEY,
  medication_id BIGINT NOT NULL REFERENCES medications(id),
  inventory_item_id BIGINT NULL REFERENCES inventory_items(id) ON DELETE SET NULL,
  is_primary BOOLEAN NOT NULL DEFAULT FALSE,
  mapping_type TEXT NOT NULL,
  mapping_status TEXT NOT NULL DEFAULT 'active',
  mapping_confidence DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_mappings_medication_id ON inventory_mappings(medication_id)`,
		// Страховка инварианта "не больше одного primary среди active".
		// Основная валидация — в ядре, индекс ловит только гонки мимо него.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_inventory_mappings_primary
  ON inventory_mappings(medication_id) WHERE is_primary AND mapping_status = 'active'`,
		`
CREATE TABLE IF NOT EXISTS refill_requests (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  prescription_id BIGINT NULL REFERENCES prescriptions(id),
  medication_id BIGINT NOT NULL REFERENCES medications(id),
  status TEXT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity > 0),
  refills_authorized INT NOT NULL,
  refills_remaining INT NOT NULL CHECK (refills_remaining >= 0),
  auto_refill BOOLEAN NOT NULL DEFAULT FALSE,
  last_filled_at TIMESTAMPTZ NULL,
  next_refill_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (refills_remaining <= refills_authorized)
)`,
		`CREATE INDEX IF NOT EXISTS idx_refill_requests_due ON refill_requests(status, next_refill_at)`,
		`
CREATE TABLE IF NOT EXISTS refill_notifications (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  refill_request_id BIGINT NULL REFERENCES refill_requests(id),
  type TEXT NOT NULL,
  message TEXT NOT NULL,
  dedupe_key TEXT NOT NULL DEFAULT '',
  read BOOLEAN NOT NULL DEFAULT FALSE,
  sent_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_refill_notifications_user_sent ON refill_notifications(user_id, sent_at DESC)`,
		// Дедупликация по ключу из брокера (повторная доставка сообщения — не дубль строки).
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_refill_notifications_dedup
  ON refill_notifications(dedupe_key) WHERE dedupe_key <> ''`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
