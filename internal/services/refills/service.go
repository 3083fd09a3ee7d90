package refills

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateRefillRequest(ctx context.Context, in models.RefillRequestCreateInput) (*models.RefillRequest, error)
	GetRefillRequest(ctx context.Context, id int64) (*models.RefillRequest, error)
	SetRefillStatus(ctx context.Context, id int64, from, to string) (*models.RefillRequest, error)
	SetAutoRefill(ctx context.Context, id int64, enabled bool) (*models.RefillRequest, error)
}

// Service — API-поверхность рефиллов. Цикл обработки живёт в Scheduler.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, in models.RefillRequestCreateInput) (*models.RefillRequest, error) {
	if in.UserID <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "userId is required")
	}
	if in.MedicationID <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "medicationId is required")
	}
	if in.Quantity <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "quantity must be positive")
	}
	if in.RefillsAuthorized <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "refillsAuthorized must be positive")
	}
	if in.NextRefillAt.IsZero() {
		in.NextRefillAt = time.Now().UTC()
	}
	return s.repo.CreateRefillRequest(ctx, in)
}

func (s *Service) Get(ctx context.Context, id int64) (*models.RefillRequest, error) {
	return s.repo.GetRefillRequest(ctx, id)
}

func (s *Service) Approve(ctx context.Context, id int64) (*models.RefillRequest, error) {
	return s.repo.SetRefillStatus(ctx, id, models.RefillStatusPending, models.RefillStatusApproved)
}

func (s *Service) Decline(ctx context.Context, id int64) (*models.RefillRequest, error) {
	return s.repo.SetRefillStatus(ctx, id, models.RefillStatusPending, models.RefillStatusDeclined)
}

// ToggleAutoRefill: включение при исчерпанных рефиллах репозиторий
// отвергает с ErrInvalidTransition.
func (s *Service) ToggleAutoRefill(ctx context.Context, id int64, enabled bool) (*models.RefillRequest, error) {
	return s.repo.SetAutoRefill(ctx, id, enabled)
}
