package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const prescriptionCols = `
  id, user_id, doctor_name, doctor_phone,
  verification_status, revoked, verified_by, notes,
  uploaded_at, created_at, updated_at`

func scanPrescription(row pgx.Row) (*models.Prescription, error) {
	var p models.Prescription
	if err := row.Scan(
		&p.ID, &p.UserID, &p.DoctorName, &p.DoctorPhone,
		&p.VerificationStatus, &p.Revoked, &p.VerifiedBy, &p.Notes,
		&p.UploadedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) CreatePrescription(ctx context.Context, in models.PrescriptionCreateInput) (*models.Prescription, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
INSERT INTO prescriptions (
  user_id, doctor_name, doctor_phone, verification_status, revoked, notes,
  uploaded_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,FALSE,$5,$6,$6,$6)
RETURNING`+prescriptionCols, in.UserID, in.DoctorName, in.DoctorPhone, models.PrescriptionStatusPending, in.Notes, now)

	p, err := scanPrescription(row)
	return p, errors.Wrap(err, "insert prescription")
}

func (s *Storage) GetPrescription(ctx context.Context, id int64) (*models.Prescription, error) {
	row := s.db.QueryRow(ctx, `SELECT`+prescriptionCols+` FROM prescriptions WHERE id = $1`, id)
	p, err := scanPrescription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "prescription %d", id)
	}
	return p, errors.Wrap(err, "select prescription")
}

// VerifyPrescription переводит pending -> verified под блокировкой строки.
// Повторный verify тем же ревьюером идемпотентен.
func (s *Storage) VerifyPrescription(ctx context.Context, id, reviewerID int64) (*models.Prescription, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPrescription(tx.QueryRow(ctx, `SELECT`+prescriptionCols+` FROM prescriptions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "prescription %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock prescription")
	}

	if p.Revoked {
		return nil, errors.Wrap(models.ErrInvalidTransition, "prescription revoked")
	}
	switch p.VerificationStatus {
	case models.PrescriptionStatusVerified:
		if p.VerifiedBy != nil && *p.VerifiedBy == reviewerID {
			return p, nil
		}
		return nil, errors.Wrap(models.ErrInvalidTransition, "already verified by another reviewer")
	case models.PrescriptionStatusPending:
	default:
		return nil, errors.Wrapf(models.ErrInvalidTransition, "verify from %s", p.VerificationStatus)
	}

	p, err = scanPrescription(tx.QueryRow(ctx, `
UPDATE prescriptions
SET verification_status = $2, verified_by = $3, updated_at = now()
WHERE id = $1
RETURNING`+prescriptionCols, id, models.PrescriptionStatusVerified, reviewerID))
	if err != nil {
		return nil, errors.Wrap(err, "update prescription (verify)")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return p, nil
}

// RevokePrescription безвозвратно отзывает рецепт и в той же транзакции
// отменяет все его заказы в pending/processing (каскадное правило безопасности).
// Возвращает отменённые заказы, чтобы сервис разослал уведомления.
func (s *Storage) RevokePrescription(ctx context.Context, id int64) (*models.Prescription, []*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPrescription(tx.QueryRow(ctx, `SELECT`+prescriptionCols+` FROM prescriptions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, errors.Wrapf(models.ErrNotFound, "prescription %d", id)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "lock prescription")
	}

	if p.Revoked {
		// Уже отозван: повторный revoke — no-op.
		return p, nil, nil
	}

	p, err = scanPrescription(tx.QueryRow(ctx, `
UPDATE prescriptions
SET revoked = TRUE, verification_status = $2, updated_at = now()
WHERE id = $1
RETURNING`+prescriptionCols, id, models.PrescriptionStatusRevoked))
	if err != nil {
		return nil, nil, errors.Wrap(err, "update prescription (revoke)")
	}

	rows, err := tx.Query(ctx, `
UPDATE orders
SET status = $2, version = version + 1, updated_at = now()
WHERE prescription_id = $1 AND status IN ($3, $4)
RETURNING id, user_id, status`, id, models.OrderStatusCancelled, models.OrderStatusPending, models.OrderStatusProcessing)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cancel orders")
	}
	defer rows.Close()

	var cancelled []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status); err != nil {
			return nil, nil, errors.Wrap(err, "scan cancelled order")
		}
		cancelled = append(cancelled, &o)
	}
	if rows.Err() != nil {
		return nil, nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "commit tx")
	}
	return p, cancelled, nil
}
