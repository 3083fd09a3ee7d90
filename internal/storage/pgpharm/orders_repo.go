package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type OrderItemInsert struct {
	MedicationID   int64
	Quantity       int64
	UnitPriceCents int64
}

// OrderInsert — заказ с уже посчитанными снимками цен (считает сервис).
type OrderInsert struct {
	UserID            int64
	PrescriptionID    *int64
	ShippingMethod    string
	ShippingCostCents int64
	TotalCents        int64
	Items             []OrderItemInsert
}

const orderCols = `
  id, user_id, status, prescription_id,
  shipping_method, shipping_cost_cents, total_cents,
  tracking_number, carrier, version,
  created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.PrescriptionID,
		&o.ShippingMethod, &o.ShippingCostCents, &o.TotalCents,
		&o.TrackingNumber, &o.Carrier, &o.Version,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, in OrderInsert) (*models.Order, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
INSERT INTO orders (
  user_id, status, prescription_id, shipping_method, shipping_cost_cents, total_cents,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING`+orderCols, in.UserID, models.OrderStatusPending, in.PrescriptionID,
		in.ShippingMethod, in.ShippingCostCents, in.TotalCents, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	for _, it := range in.Items {
		var item models.OrderItem
		err := tx.QueryRow(ctx, `
INSERT INTO order_items (order_id, medication_id, quantity, unit_price_cents)
VALUES ($1,$2,$3,$4)
RETURNING id, order_id, medication_id, quantity, unit_price_cents
`, o.ID, it.MedicationID, it.Quantity, it.UnitPriceCents).Scan(
			&item.ID, &item.OrderID, &item.MedicationID, &item.Quantity, &item.UnitPriceCents)
		if err != nil {
			return nil, errors.Wrap(err, "insert order item")
		}
		o.Items = append(o.Items, &item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return o, nil
}

func (s *Storage) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "order %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	items, err := s.listOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *Storage) listOrderItems(ctx context.Context, orderID int64) ([]*models.OrderItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, order_id, medication_id, quantity, unit_price_cents
FROM order_items
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	var out []*models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MedicationID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		out = append(out, &it)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) ListOrdersByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+orderCols+`
FROM orders
WHERE status = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// TransitionOrder — условный переход со сверкой статуса и версии.
// Потерянная гонка (0 строк) возвращает ErrConcurrencyConflict; классификацию
// (идемпотентный повтор / запрещённый переход / retry) делает сервис по свежему чтению.
func (s *Storage) TransitionOrder(ctx context.Context, orderID int64, from, to string, version int32, ship *models.ShipmentInput) (*models.Order, error) {
	var trackingNumber, carrier *string
	if ship != nil {
		trackingNumber, carrier = &ship.TrackingNumber, &ship.Carrier
	}

	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders
SET status = $4,
    tracking_number = COALESCE($5, tracking_number),
    carrier = COALESCE($6, carrier),
    version = version + 1,
    updated_at = now()
WHERE id = $1 AND status = $2 AND version = $3
RETURNING`+orderCols, orderID, from, version, to, trackingNumber, carrier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrConcurrencyConflict, "order %d %s->%s", orderID, from, to)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}

	items, err := s.listOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}
