package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	PharmBox PharmBoxConfig `yaml:"pharmbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	NotificationsTopicName string `yaml:"notifications_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PharmBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	OrderTTLSeconds    int    `yaml:"order_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	SyncPollIntervalSeconds int `yaml:"sync_poll_interval_seconds"`
	SyncBatchSize           int `yaml:"sync_batch_size"`
	SyncConcurrency         int `yaml:"sync_concurrency"`
	SyncLeaseSeconds        int `yaml:"sync_lease_seconds"`
	SyncRateLimitPerMinute  int `yaml:"sync_rate_limit_per_minute"`
	SyncFetchTimeoutSeconds int `yaml:"sync_fetch_timeout_seconds"`

	// Цикл рефиллов. В проде — раз в сутки, в тестах/демо — чаще.
	RefillPollIntervalSeconds int `yaml:"refill_poll_interval_seconds"`
	RefillBatchSize           int `yaml:"refill_batch_size"`
	RefillDefaultIntervalDays int `yaml:"refill_default_interval_days"`

	// "fake" для демо без внешних фидов, "rest" для живых провайдеров.
	ProviderClientMode string `yaml:"provider_client_mode"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
