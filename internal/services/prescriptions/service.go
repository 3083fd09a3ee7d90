package prescriptions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/notify"
	"github.com/pkg/errors"
)

type Repository interface {
	CreatePrescription(ctx context.Context, in models.PrescriptionCreateInput) (*models.Prescription, error)
	GetPrescription(ctx context.Context, id int64) (*models.Prescription, error)
	VerifyPrescription(ctx context.Context, id, reviewerID int64) (*models.Prescription, error)
	RevokePrescription(ctx context.Context, id int64) (*models.Prescription, []*models.Order, error)
}

type Service struct {
	repo   Repository
	queuer notify.Queuer
}

func New(repo Repository, queuer notify.Queuer) *Service {
	return &Service{repo: repo, queuer: queuer}
}

func (s *Service) Upload(ctx context.Context, in models.PrescriptionCreateInput) (*models.Prescription, error) {
	if in.UserID <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "userId is required")
	}
	return s.repo.CreatePrescription(ctx, in)
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Prescription, error) {
	return s.repo.GetPrescription(ctx, id)
}

func (s *Service) Verify(ctx context.Context, id, reviewerID int64) (*models.Prescription, error) {
	if reviewerID <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "reviewerId is required")
	}
	return s.repo.VerifyPrescription(ctx, id, reviewerID)
}

// Revoke отзывает рецепт и каскадно отменяет незавершённые заказы по нему.
// Отмена и отзыв атомарны (одна транзакция в репозитории); уведомления
// публикуются после коммита, их потеря не ломает инвариант.
func (s *Service) Revoke(ctx context.Context, id int64) (*models.Prescription, error) {
	p, cancelled, err := s.repo.RevokePrescription(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, o := range cancelled {
		msg := messages.NotificationQueued{
			DedupeKey: fmt.Sprintf("order:%d:cancelled-by-revoke", o.ID),
			UserID:    o.UserID,
			Type:      models.NotificationTypeStatusUpdate,
			Message:   fmt.Sprintf("Order %d was cancelled: prescription %d revoked", o.ID, id),
			QueuedAt:  time.Now().UTC(),
		}
		if s.queuer != nil {
			if qerr := s.queuer.Queue(ctx, msg); qerr != nil {
				slog.Error("queue revoke notification", "order_id", o.ID, "err", qerr)
			}
		}
	}
	return p, nil
}

// CanShip — шлюз для отгрузки. Читает рецепт заново, без кэша:
// отзыв между проверкой и отгрузкой должен быть виден.
func (s *Service) CanShip(ctx context.Context, prescriptionID *int64) error {
	if prescriptionID == nil {
		return nil
	}
	p, err := s.repo.GetPrescription(ctx, *prescriptionID)
	if err != nil {
		return err
	}
	if p.Revoked || p.VerificationStatus != models.PrescriptionStatusVerified {
		return errors.Wrapf(models.ErrPrescriptionNotVerified,
			"prescription %d is %s", p.ID, p.VerificationStatus)
	}
	return nil
}
