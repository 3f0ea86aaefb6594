package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "log", cfg.Notify.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HELPERSLOTS_SERVER_PORT", "9090")
	t.Setenv("HELPERSLOTS_DATABASE_DRIVER", "sqlite")
	t.Setenv("HELPERSLOTS_DATABASE_SQLITE_PATH", "/tmp/slots.db")
	t.Setenv("HELPERSLOTS_NOTIFY_DRIVER", "kafka")
	t.Setenv("HELPERSLOTS_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":9090", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/slots.db", cfg.Database.SQLitePath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
app:
  environment: production
database:
  driver: sqlite
  sqlite_path: data/slots.db
notify:
  driver: redis
  queue: mail:outbox
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "data/slots.db", cfg.Database.SQLitePath)
	assert.Equal(t, "mail:outbox", cfg.Notify.Queue)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "postgres", Host: "db", DBName: "slots", MaxConns: 4, MinConns: 1},
			Notify:   NotifyConfig{Driver: "log"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "database.driver"},
		{name: "missing host", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: "database.host"},
		{name: "pool sizes", mutate: func(c *Config) { c.Database.MinConns = 10 }, wantErr: "max_conns"},
		{name: "sqlite path", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "sqlite_path"},
		{name: "redis queue", mutate: func(c *Config) { c.Notify.Driver = "redis" }, wantErr: "notify.queue"},
		{name: "kafka brokers", mutate: func(c *Config) { c.Notify.Driver = "kafka"; c.Notify.Topic = "t" }, wantErr: "kafka.brokers"},
		{name: "unknown notifier", mutate: func(c *Config) { c.Notify.Driver = "smtp" }, wantErr: "notify.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
