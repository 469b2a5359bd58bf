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
	Radar    RadarConfig    `yaml:"radar"`
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

type RadarConfig struct {
	APIBaseURL        string `yaml:"api_base_url"`
	APITimeoutSeconds int    `yaml:"api_timeout_seconds"`
	AppVersion        string `yaml:"app_version"`
	OSVersion         string `yaml:"os_version"`
	Locale            string `yaml:"locale"` // "ru" | "en"
	UserAgent         string `yaml:"user_agent"`

	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	SyncIntervalSeconds    int `yaml:"sync_interval_seconds"`
	SyncRateLimitPerMinute int `yaml:"sync_rate_limit_per_minute"`
	FeedCacheTTLSeconds    int `yaml:"feed_cache_ttl_seconds"`

	PlaceholderRefreshSeconds int `yaml:"placeholder_refresh_seconds"`
	PlaceholderMaxAttempts    int `yaml:"placeholder_max_attempts"`

	RetryTimes          int `yaml:"retry_times"`
	RetryInitialDelayMs int `yaml:"retry_initial_delay_ms"`
	RetryMaxDelayMs     int `yaml:"retry_max_delay_ms"`
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
