package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const refillCols = `
  id, user_id, prescription_id, medication_id, status,
  quantity, refills_authorized, refills_remaining, auto_refill,
  last_filled_at, next_refill_at, created_at, updated_at`

func scanRefill(row pgx.Row) (*models.RefillRequest, error) {
	var r models.RefillRequest
	if err := row.Scan(
		&r.ID, &r.UserID, &r.PrescriptionID, &r.MedicationID, &r.Status,
		&r.Quantity, &r.RefillsAuthorized, &r.RefillsRemaining, &r.AutoRefill,
		&r.LastFilledAt, &r.NextRefillAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) CreateRefillRequest(ctx context.Context, in models.RefillRequestCreateInput) (*models.RefillRequest, error) {
	now := time.Now().UTC()
	r, err := scanRefill(s.db.QueryRow(ctx, `
INSERT INTO refill_requests (
  user_id, prescription_id, medication_id, status, quantity,
  refills_authorized, refills_remaining, auto_refill, next_refill_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8,$9,$9)
RETURNING`+refillCols, in.UserID, in.PrescriptionID, in.MedicationID,
		models.RefillStatusPending, in.Quantity, in.RefillsAuthorized,
		in.AutoRefill, in.NextRefillAt.UTC(), now))
	return r, errors.Wrap(err, "insert refill request")
}

func (s *Storage) GetRefillRequest(ctx context.Context, id int64) (*models.RefillRequest, error) {
	r, err := scanRefill(s.db.QueryRow(ctx, `SELECT`+refillCols+` FROM refill_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "refill request %d", id)
	}
	return r, errors.Wrap(err, "select refill request")
}

// SetRefillStatus — условный переход pending -> approved/declined (админ-решение).
// Повтор уже применённого решения идемпотентен.
func (s *Storage) SetRefillStatus(ctx context.Context, id int64, from, to string) (*models.RefillRequest, error) {
	r, err := scanRefill(s.db.QueryRow(ctx, `
UPDATE refill_requests
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
RETURNING`+refillCols, id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, getErr := s.GetRefillRequest(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == to {
			return cur, nil
		}
		return nil, errors.Wrapf(models.ErrInvalidTransition, "refill request %d: %s -> %s", id, cur.Status, to)
	}
	return r, errors.Wrap(err, "update refill status")
}

// ListDueRefills — запросы, готовые к рефиллу на момент now. Обычный SELECT:
// защита от двойной обработки лежит в условном AdvanceRefill, не в выборке.
func (s *Storage) ListDueRefills(ctx context.Context, now time.Time, limit int) ([]*models.RefillRequest, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `
SELECT`+refillCols+`
FROM refill_requests
WHERE status = $1 AND refills_remaining > 0 AND next_refill_at <= $2
ORDER BY next_refill_at ASC
LIMIT $3
`, models.RefillStatusApproved, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due refills")
	}
	defer rows.Close()

	var out []*models.RefillRequest
	for rows.Next() {
		r, err := scanRefill(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due refill")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// AdvanceRefill — атомарная точка коммита цикла шедулера: декремент счётчика,
// last_filled_at и перенос next_refill_at одним условным UPDATE. Ноль строк
// означает "уже обработан или больше не due" — повтор цикла после падения
// безопасно пропускает такой запрос. Исчерпание счётчика гасит auto_refill
// навсегда (до новой авторизации новым рецептом).
func (s *Storage) AdvanceRefill(ctx context.Context, id int64, now, nextRefillAt time.Time) (*models.RefillRequest, bool, error) {
	r, err := scanRefill(s.db.QueryRow(ctx, `
UPDATE refill_requests
SET refills_remaining = refills_remaining - 1,
    last_filled_at = $2,
    next_refill_at = $3,
    auto_refill = CASE WHEN refills_remaining - 1 <= 0 THEN FALSE ELSE auto_refill END,
    status = CASE WHEN refills_remaining - 1 <= 0 THEN $4 ELSE status END,
    updated_at = now()
WHERE id = $1 AND status = $5 AND refills_remaining > 0 AND next_refill_at <= $2
RETURNING`+refillCols, id, now.UTC(), nextRefillAt.UTC(), models.RefillStatusFilled, models.RefillStatusApproved))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "advance refill")
	}
	return r, true, nil
}

// SetAutoRefill переключает флаг под блокировкой строки. Включение при
// исчерпанном счётчике запрещено.
func (s *Storage) SetAutoRefill(ctx context.Context, id int64, enabled bool) (*models.RefillRequest, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := scanRefill(tx.QueryRow(ctx, `SELECT`+refillCols+` FROM refill_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "refill request %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock refill request")
	}

	if enabled && r.RefillsRemaining <= 0 {
		return nil, errors.Wrap(models.ErrInvalidTransition, "no refills remaining")
	}

	r, err = scanRefill(tx.QueryRow(ctx, `
UPDATE refill_requests
SET auto_refill = $2, updated_at = now()
WHERE id = $1
RETURNING`+refillCols, id, enabled))
	if err != nil {
		return nil, errors.Wrap(err, "update auto refill")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return r, nil
}
