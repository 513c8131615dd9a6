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
	Tracking TrackingConfig `yaml:"tracking"`
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
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	StatusChangedTopicName   string `yaml:"status_changed_topic_name"`
	PositionUpdatedTopicName string `yaml:"position_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TrackingConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// TTL of the cached tracking snapshot in redis.
	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds"`

	// How long a tracking key keeps its subscriber set after the delivery
	// reaches a terminal status.
	TerminalKeyTTLSeconds int `yaml:"terminal_key_ttl_seconds"`

	// When true, a position report older than the last accepted one is
	// dropped. Default is last-write-wins by arrival.
	RejectStaleReports bool `yaml:"reject_stale_reports"`

	// Per-driver position report budget (redis INCR window).
	PositionRateLimitPerMinute int `yaml:"position_rate_limit_per_minute"`

	MovementThresholdDegrees float64 `yaml:"movement_threshold_degrees"`
	RouteDebounceMillis      int     `yaml:"route_debounce_millis"`
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
