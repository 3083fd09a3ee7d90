package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш для read-side ручек. Инвариантные проверки ядра
// кэш не читают никогда (им нужен fresh read из Postgres).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
