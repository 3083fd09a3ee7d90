package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type MedicationInsert struct {
	Name               string
	NDCCode            *string
	CatalogPriceCents  int64
	SupplyIntervalDays *int32
}

func (s *Storage) CreateMedication(ctx context.Context, in MedicationInsert) (*models.Medication, error) {
	var m models.Medication
	err := s.db.QueryRow(ctx, `
INSERT INTO medications (name, ndc_code, catalog_price_cents, supply_interval_days, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, name, ndc_code, catalog_price_cents, supply_interval_days, created_at
`, in.Name, in.NDCCode, in.CatalogPriceCents, in.SupplyIntervalDays, time.Now().UTC()).Scan(
		&m.ID, &m.Name, &m.NDCCode, &m.CatalogPriceCents, &m.SupplyIntervalDays, &m.CreatedAt)
	return &m, errors.Wrap(err, "insert medication")
}

func (s *Storage) GetMedication(ctx context.Context, id int64) (*models.Medication, error) {
	var m models.Medication
	err := s.db.QueryRow(ctx, `
SELECT id, name, ndc_code, catalog_price_cents, supply_interval_days, created_at
FROM medications
WHERE id = $1
`, id).Scan(&m.ID, &m.Name, &m.NDCCode, &m.CatalogPriceCents, &m.SupplyIntervalDays, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "medication %d", id)
	}
	return &m, errors.Wrap(err, "select medication")
}
