package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/notify"
)

type Repository interface {
	InsertNotification(ctx context.Context, n models.RefillNotification) (bool, error)
	ListNotificationsByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.RefillNotification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

type Service struct {
	repo       Repository
	dispatcher notify.Dispatcher
}

func New(repo Repository, d notify.Dispatcher) *Service {
	if d == nil {
		d = notify.LogDispatcher{}
	}
	return &Service{repo: repo, dispatcher: d}
}

// ApplyQueued обрабатывает сообщение из kafka: сохраняет строку и
// отдаёт её диспетчеру. Дубликат по dedupe_key молча пропускается,
// поэтому повторная доставка из брокера безопасна.
func (s *Service) ApplyQueued(ctx context.Context, msg messages.NotificationQueued) error {
	sentAt := msg.QueuedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	stored, err := s.repo.InsertNotification(ctx, models.RefillNotification{
		UserID:          msg.UserID,
		RefillRequestID: msg.RefillRequestID,
		Type:            msg.Type,
		Message:         msg.Message,
		DedupeKey:       msg.DedupeKey,
		SentAt:          sentAt,
	})
	if err != nil {
		return err
	}
	if !stored {
		return nil
	}
	if err := s.dispatcher.Dispatch(ctx, &models.RefillNotification{
		UserID:          msg.UserID,
		RefillRequestID: msg.RefillRequestID,
		Type:            msg.Type,
		Message:         msg.Message,
		DedupeKey:       msg.DedupeKey,
		SentAt:          sentAt,
	}); err != nil {
		// Строка уже сохранена, доставка вторична: ретраить оффсет
		// ради диспетчера не стоит.
		slog.Error("dispatch notification", "user_id", msg.UserID, "error", err.Error())
	}
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.RefillNotification, error) {
	return s.repo.ListNotificationsByUser(ctx, userID, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, id int64) error {
	return s.repo.MarkNotificationRead(ctx, id)
}
