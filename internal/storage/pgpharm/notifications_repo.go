package pgpharm

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/pkg/errors"
)

// InsertNotification сохраняет уведомление. Повторная доставка сообщения с тем же
// dedupe_key не создаёт вторую строку (broker даёт at-least-once).
// Возвращает false, если строка уже была.
func (s *Storage) InsertNotification(ctx context.Context, n models.RefillNotification) (bool, error) {
	sentAt := n.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO refill_notifications (user_id, refill_request_id, type, message, dedupe_key, read, sent_at)
VALUES ($1,$2,$3,$4,$5,FALSE,$6)
ON CONFLICT (dedupe_key) WHERE dedupe_key <> '' DO NOTHING
`, n.UserID, n.RefillRequestID, n.Type, n.Message, n.DedupeKey, sentAt.UTC())
	if err != nil {
		return false, errors.Wrap(err, "insert notification")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) ListNotificationsByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.RefillNotification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, user_id, refill_request_id, type, message, dedupe_key, read, sent_at
FROM refill_notifications
WHERE user_id = $1
ORDER BY sent_at DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select notifications")
	}
	defer rows.Close()

	var out []*models.RefillNotification
	for rows.Next() {
		var n models.RefillNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.RefillRequestID, &n.Type, &n.Message, &n.DedupeKey, &n.Read, &n.SentAt); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) MarkNotificationRead(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE refill_notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "notification %d", id)
	}
	return nil
}
