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
  name: "chronogaz"
kafka:
  host: "localhost"
  port: 9092
  status_changed_topic_name: "livraison.status.changed"
  position_updated_topic_name: "livraison.position.updated"
redis:
  host: "localhost"
  port: 6379
tracking:
  http_addr: ":8080"
  kafka_consumer_group: "chrono-tracker"
  snapshot_ttl_seconds: 600
  terminal_key_ttl_seconds: 300
  reject_stale_reports: true
  position_rate_limit_per_minute: 120
  movement_threshold_degrees: 0.0001
  route_debounce_millis: 500
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "livraison.status.changed", cfg.Kafka.StatusChangedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Tracking.HTTPAddr)
	require.True(t, cfg.Tracking.RejectStaleReports)
	require.Equal(t, 0.0001, cfg.Tracking.MovementThresholdDegrees)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
