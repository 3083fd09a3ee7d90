package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const mappingCols = `
  id, medication_id, inventory_item_id, is_primary,
  mapping_type, mapping_status, mapping_confidence,
  created_at, updated_at`

const itemCols = `
  id, provider_id, external_id, ndc_code, name,
  quantity, unit, price_cents, wholesale_cents, retail_cents,
  in_stock, reorder_threshold, raw_payload, sync_seq, last_updated_at`

func scanMapping(row pgx.Row) (*models.InventoryMapping, error) {
	var m models.InventoryMapping
	// inventory_item_id NULL-ится, когда позиция пропала из фида (ON DELETE SET NULL)
	var itemID *int64
	if err := row.Scan(
		&m.ID, &m.MedicationID, &itemID, &m.IsPrimary,
		&m.MappingType, &m.MappingStatus, &m.MappingConfidence,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if itemID != nil {
		m.InventoryItemID = *itemID
	}
	return &m, nil
}

func scanItem(row pgx.Row) (*models.InventoryItem, error) {
	var it models.InventoryItem
	if err := row.Scan(
		&it.ID, &it.ProviderID, &it.ExternalID, &it.NDCCode, &it.Name,
		&it.Quantity, &it.Unit, &it.PriceCents, &it.WholesaleCents, &it.RetailCents,
		&it.InStock, &it.ReorderThreshold, &it.RawPayload, &it.SyncSeq, &it.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

// ReplaceProviderItems применяет снапшот провайдера как swap: upsert всех позиций
// под новым sync_seq и удаление всего, что осталось на старом, одной транзакцией.
// Читатели не видят наполовину применённый снапшот. Маппинги на исчезнувшие
// позиции переводятся в error и теряют primary до ручного вмешательства.
func (s *Storage) ReplaceProviderItems(ctx context.Context, providerID int64, items []models.InventoryItemInput, syncedAt time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	err = tx.QueryRow(ctx, `
SELECT sync_seq + 1 FROM inventory_providers WHERE id = $1 FOR UPDATE
`, providerID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(models.ErrNotFound, "provider %d", providerID)
	}
	if err != nil {
		return 0, errors.Wrap(err, "lock provider")
	}

	for _, it := range items {
		_, err := tx.Exec(ctx, `
INSERT INTO inventory_items (
  provider_id, external_id, ndc_code, name, quantity, unit,
  price_cents, wholesale_cents, retail_cents, in_stock, reorder_threshold,
  raw_payload, sync_seq, last_updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (provider_id, external_id)
DO UPDATE SET
  ndc_code = EXCLUDED.ndc_code,
  name = EXCLUDED.name,
  quantity = EXCLUDED.quantity,
  unit = EXCLUDED.unit,
  price_cents = EXCLUDED.price_cents,
  wholesale_cents = EXCLUDED.wholesale_cents,
  retail_cents = EXCLUDED.retail_cents,
  in_stock = EXCLUDED.in_stock,
  reorder_threshold = EXCLUDED.reorder_threshold,
  raw_payload = EXCLUDED.raw_payload,
  sync_seq = EXCLUDED.sync_seq,
  last_updated_at = EXCLUDED.last_updated_at
`, providerID, it.ExternalID, it.NDCCode, it.Name, it.Quantity, it.Unit,
			it.PriceCents, it.WholesaleCents, it.RetailCents, it.InStock, it.ReorderThreshold,
			it.RawPayload, seq, syncedAt.UTC())
		if err != nil {
			return 0, errors.Wrap(err, "upsert inventory item")
		}
	}

	_, err = tx.Exec(ctx, `
UPDATE inventory_mappings m
SET mapping_status = $3, is_primary = FALSE, updated_at = now()
FROM inventory_items it
WHERE m.inventory_item_id = it.id AND it.provider_id = $1 AND it.sync_seq < $2
`, providerID, seq, models.MappingStatusError)
	if err != nil {
		return 0, errors.Wrap(err, "mark stale mappings")
	}

	_, err = tx.Exec(ctx, `DELETE FROM inventory_items WHERE provider_id = $1 AND sync_seq < $2`, providerID, seq)
	if err != nil {
		return 0, errors.Wrap(err, "delete stale items")
	}

	_, err = tx.Exec(ctx, `
UPDATE inventory_providers
SET sync_seq = $2,
    connection_status = $3,
    sync_fail_count = 0,
    last_error = NULL,
    last_sync_at = $4,
    next_sync_at = $4 + make_interval(secs => sync_frequency_seconds),
    updated_at = now()
WHERE id = $1
`, providerID, seq, models.ProviderStatusConnected, syncedAt.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "update provider (synced)")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return len(items), nil
}

// ListActiveMappings возвращает активные маппинги медикамента вместе с позициями.
// Выбор primary (явный флаг / confidence / provider id) делает сервис.
func (s *Storage) ListActiveMappings(ctx context.Context, medicationID int64) ([]*models.MappingWithItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  m.id, m.medication_id, m.inventory_item_id, m.is_primary,
  m.mapping_type, m.mapping_status, m.mapping_confidence,
  m.created_at, m.updated_at,
  it.id, it.provider_id, it.external_id, it.ndc_code, it.name,
  it.quantity, it.unit, it.price_cents, it.wholesale_cents, it.retail_cents,
  it.in_stock, it.reorder_threshold, it.raw_payload, it.sync_seq, it.last_updated_at
FROM inventory_mappings m
JOIN inventory_items it ON it.id = m.inventory_item_id
WHERE m.medication_id = $1 AND m.mapping_status = $2
`, medicationID, models.MappingStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "select mappings")
	}
	defer rows.Close()

	var out []*models.MappingWithItem
	for rows.Next() {
		var mw models.MappingWithItem
		var itemID int64
		if err := rows.Scan(
			&mw.Mapping.ID, &mw.Mapping.MedicationID, &mw.Mapping.InventoryItemID, &mw.Mapping.IsPrimary,
			&mw.Mapping.MappingType, &mw.Mapping.MappingStatus, &mw.Mapping.MappingConfidence,
			&mw.Mapping.CreatedAt, &mw.Mapping.UpdatedAt,
			&itemID, &mw.Item.ProviderID, &mw.Item.ExternalID, &mw.Item.NDCCode, &mw.Item.Name,
			&mw.Item.Quantity, &mw.Item.Unit, &mw.Item.PriceCents, &mw.Item.WholesaleCents, &mw.Item.RetailCents,
			&mw.Item.InStock, &mw.Item.ReorderThreshold, &mw.Item.RawPayload, &mw.Item.SyncSeq, &mw.Item.LastUpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan mapping")
		}
		mw.Item.ID = itemID
		out = append(out, &mw)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) GetMapping(ctx context.Context, id int64) (*models.InventoryMapping, error) {
	m, err := scanMapping(s.db.QueryRow(ctx, `SELECT`+mappingCols+` FROM inventory_mappings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "mapping %d", id)
	}
	return m, errors.Wrap(err, "select mapping")
}

// PromoteMapping назначает маппинг primary и в той же транзакции снимает флаг
// с остальных маппингов медикамента. Все строки медикамента блокируются, чтобы
// две конкурирующие promotion не закончились двумя primary.
// PromoteMapping делает маппинг единственным primary и закрепляет его как
// manual: решение админа авто-promotion больше не вытесняет.
func (s *Storage) PromoteMapping(ctx context.Context, mappingID int64) (*models.InventoryMapping, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMapping(tx.QueryRow(ctx, `SELECT`+mappingCols+` FROM inventory_mappings WHERE id = $1 FOR UPDATE`, mappingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "mapping %d", mappingID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock mapping")
	}
	if m.MappingStatus != models.MappingStatusActive {
		return nil, errors.Wrapf(models.ErrValidation, "mapping %d is %s", mappingID, m.MappingStatus)
	}

	rows, err := tx.Query(ctx, `SELECT id FROM inventory_mappings WHERE medication_id = $1 FOR UPDATE`, m.MedicationID)
	if err != nil {
		return nil, errors.Wrap(err, "lock sibling mappings")
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	_, err = tx.Exec(ctx, `
UPDATE inventory_mappings
SET is_primary = FALSE, updated_at = now()
WHERE medication_id = $1 AND id <> $2 AND is_primary
`, m.MedicationID, mappingID)
	if err != nil {
		return nil, errors.Wrap(err, "demote siblings")
	}

	m, err = scanMapping(tx.QueryRow(ctx, `
UPDATE inventory_mappings
SET is_primary = TRUE, mapping_type = $2, updated_at = now()
WHERE id = $1
RETURNING`+mappingCols, mappingID, models.MappingTypeManual))
	if err != nil {
		return nil, errors.Wrap(err, "promote mapping")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return m, nil
}

type MappingInsert struct {
	MedicationID      int64
	InventoryItemID   int64
	MappingType       string
	MappingConfidence *float64
}

// shouldAutoPromote решает, становится ли новый automatic-маппинг primary.
// Ручной primary автоматикой не вытесняется; порог confidence — 0.5.
func shouldAutoPromote(current *models.InventoryMapping, confidence float64) bool {
	if confidence < 0.5 {
		return false
	}
	if current == nil {
		return true
	}
	if current.MappingType == models.MappingTypeManual {
		return false
	}
	return current.MappingConfidence == nil || confidence > *current.MappingConfidence
}

// CreateMapping вставляет маппинг; для automatic применяет правила авто-promotion
// под той же блокировкой, что и PromoteMapping.
func (s *Storage) CreateMapping(ctx context.Context, in MappingInsert) (*models.InventoryMapping, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT id FROM inventory_mappings WHERE medication_id = $1 FOR UPDATE`, in.MedicationID)
	if err != nil {
		return nil, errors.Wrap(err, "lock sibling mappings")
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	var current *models.InventoryMapping
	cur, err := scanMapping(tx.QueryRow(ctx, `
SELECT`+mappingCols+`
FROM inventory_mappings
WHERE medication_id = $1 AND is_primary AND mapping_status = $2
`, in.MedicationID, models.MappingStatusActive))
	if err == nil {
		current = cur
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "select current primary")
	}

	promote := false
	if in.MappingType == models.MappingTypeAutomatic && in.MappingConfidence != nil {
		promote = shouldAutoPromote(current, *in.MappingConfidence)
	}

	if promote && current != nil {
		_, err = tx.Exec(ctx, `UPDATE inventory_mappings SET is_primary = FALSE, updated_at = now() WHERE id = $1`, current.ID)
		if err != nil {
			return nil, errors.Wrap(err, "demote current primary")
		}
	}

	m, err := scanMapping(tx.QueryRow(ctx, `
INSERT INTO inventory_mappings (
  medication_id, inventory_item_id, is_primary, mapping_type, mapping_status,
  mapping_confidence, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING`+mappingCols, in.MedicationID, in.InventoryItemID, promote,
		in.MappingType, models.MappingStatusActive, in.MappingConfidence, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert mapping")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return m, nil
}

func (s *Storage) DeactivateMapping(ctx context.Context, mappingID int64) (*models.InventoryMapping, error) {
	m, err := scanMapping(s.db.QueryRow(ctx, `
UPDATE inventory_mappings
SET mapping_status = $2, is_primary = FALSE, updated_at = now()
WHERE id = $1
RETURNING`+mappingCols, mappingID, models.MappingStatusInactive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "mapping %d", mappingID)
	}
	return m, errors.Wrap(err, "deactivate mapping")
}
