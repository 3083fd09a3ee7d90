package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  notifications_topic_name: "pharm.notifications"
redis:
  host: "localhost"
  port: 6379
pharmbox:
  http_addr: ":8080"
  kafka_consumer_group: "pharm-api"
  order_ttl_seconds: 600
  worker_http_addr: ":8082"
  sync_poll_interval_seconds: 5
  sync_batch_size: 50
  refill_poll_interval_seconds: 86400
  refill_default_interval_days: 30
  provider_client_mode: "fake"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "pharm.notifications", cfg.Kafka.NotificationsTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.PharmBox.HTTPAddr)
	require.Equal(t, 86400, cfg.PharmBox.RefillPollIntervalSeconds)
	require.Equal(t, "fake", cfg.PharmBox.ProviderClientMode)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
