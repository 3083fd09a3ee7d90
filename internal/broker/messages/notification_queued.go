package messages

import "time"

// NotificationQueued — сообщение воркера (шедулер рефиллов / синкер) для pharm-api.
// API сохраняет строку RefillNotification и отдаёт её внешнему диспетчеру.
// DedupeKey защищает от повторной доставки (at-least-once у Kafka).
type NotificationQueued struct {
	DedupeKey       string `json:"dedupe_key"`
	UserID          int64  `json:"user_id"`
	RefillRequestID *int64 `json:"refill_request_id,omitempty"`

	// Type: reminder | status_update | auto_refill_result.
	Type    string `json:"type"`
	Message string `json:"message"`

	QueuedAt time.Time `json:"queued_at"`
}
