package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Dispatcher — внешний коллаборатор доставки (email/SMS). Ядро решает
// "что и когда" отправить; "как" — забота реализации.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.RefillNotification) error
}

// LogDispatcher — дефолтная реализация: просто пишет в лог.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(ctx context.Context, n *models.RefillNotification) error {
	slog.Info("notification dispatched",
		"user_id", n.UserID, "type", n.Type, "message", n.Message)
	return nil
}

// Queuer публикует решение об уведомлении в брокер. Пустой DedupeKey
// заменяется на uuid: строка всё равно одна, но без защиты от повторов.
type Queuer interface {
	Queue(ctx context.Context, msg messages.NotificationQueued) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type KafkaQueuer struct {
	producer Producer
	topic    string
}

func NewKafkaQueuer(p Producer, topic string) *KafkaQueuer {
	return &KafkaQueuer{producer: p, topic: topic}
}

func (q *KafkaQueuer) Queue(ctx context.Context, msg messages.NotificationQueued) error {
	if msg.DedupeKey == "" {
		msg.DedupeKey = uuid.NewString()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification msg")
	}
	if err := q.producer.Publish(ctx, q.topic, []byte(msg.DedupeKey), b); err != nil {
		return errors.Wrap(err, "publish notification msg")
	}
	return nil
}
