package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const providerCols = `
  id, name, base_url, api_key, is_active,
  connection_status, sync_frequency_seconds, sync_seq, sync_fail_count,
  last_error, last_sync_at, next_sync_at, created_at, updated_at`

func scanProvider(row pgx.Row) (*models.InventoryProvider, error) {
	var p models.InventoryProvider
	if err := row.Scan(
		&p.ID, &p.Name, &p.BaseURL, &p.APIKey, &p.IsActive,
		&p.ConnectionStatus, &p.SyncFrequencySeconds, &p.SyncSeq, &p.SyncFailCount,
		&p.LastError, &p.LastSyncAt, &p.NextSyncAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

type ProviderInsert struct {
	Name                 string
	BaseURL              string
	APIKey               string
	SyncFrequencySeconds int32
}

func (s *Storage) CreateProvider(ctx context.Context, in ProviderInsert) (*models.InventoryProvider, error) {
	now := time.Now().UTC()
	if in.SyncFrequencySeconds <= 0 {
		in.SyncFrequencySeconds = 3600
	}
	p, err := scanProvider(s.db.QueryRow(ctx, `
INSERT INTO inventory_providers (
  name, base_url, api_key, is_active, connection_status,
  sync_frequency_seconds, next_sync_at, created_at, updated_at
)
VALUES ($1,$2,$3,TRUE,$4,$5,$6,$6,$6)
RETURNING`+providerCols, in.Name, in.BaseURL, in.APIKey,
		models.ProviderStatusDisconnected, in.SyncFrequencySeconds, now))
	return p, errors.Wrap(err, "insert provider")
}

func (s *Storage) GetProvider(ctx context.Context, id int64) (*models.InventoryProvider, error) {
	p, err := scanProvider(s.db.QueryRow(ctx, `SELECT`+providerCols+` FROM inventory_providers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "provider %d", id)
	}
	return p, errors.Wrap(err, "select provider")
}

// RefreshProvider делает провайдера "due" немедленно — триггер синка из API.
func (s *Storage) RefreshProvider(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE inventory_providers SET next_sync_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "refresh provider")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "provider %d", id)
	}
	return nil
}

// ClaimDueProviders выбирает провайдеров, готовых к синку, и "бронирует" их
// через next_sync_at += lease, чтобы параллельные воркеры не взяли одного дважды.
// SELECT ... FOR UPDATE SKIP LOCKED: зависший синк переживёт lease и будет перевыбран.
func (s *Storage) ClaimDueProviders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.InventoryProvider, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+providerCols+`
FROM inventory_providers
WHERE is_active AND next_sync_at <= $1
ORDER BY next_sync_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due providers")
	}
	defer rows.Close()

	var picked []*models.InventoryProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due provider")
		}
		picked = append(picked, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		if _, err := tx.Exec(ctx, `UPDATE inventory_providers SET next_sync_at = $2, updated_at = now() WHERE id = $1`, p.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease provider")
		}
		p.NextSyncAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// MarkProviderSyncError фиксирует неудачный синк: статус error, счётчик фейлов,
// следующая попытка по backoff. Успешный путь закрывает ReplaceProviderItems.
func (s *Storage) MarkProviderSyncError(ctx context.Context, id int64, errMsg string, nextSyncAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE inventory_providers
SET connection_status = $2,
    sync_fail_count = sync_fail_count + 1,
    last_error = $3,
    next_sync_at = $4,
    updated_at = now()
WHERE id = $1
`, id, models.ProviderStatusError, errMsg, nextSyncAt.UTC())
	return errors.Wrap(err, "mark provider error")
}
