// Package config loads service configuration from defaults, an optional
// config file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable, e.g. HELPERSLOTS_DATABASE_HOST.
const EnvPrefix = "HELPERSLOTS"

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WebDir          string        `mapstructure:"web_dir"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// DatabaseConfig selects and configures the reservation store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
}

// DSN builds a libpq-compatible connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
}

// NotifyConfig selects where confirmation notifications are delivered.
type NotifyConfig struct {
	Driver  string        `mapstructure:"driver"` // log, redis, kafka
	Queue   string        `mapstructure:"queue"`  // redis list key
	Topic   string        `mapstructure:"topic"`  // kafka topic
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load reads configuration from ./config.yaml (if present) and the environment.
func Load() (*Config, error) {
	return LoadWithPath(".")
}

// LoadWithPath reads configuration from path/config.yaml (if present) and the environment.
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Brokers may arrive as one comma separated env value.
	cfg.Kafka.Brokers = splitList(strings.Join(cfg.Kafka.Brokers, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "helper-slots")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.web_dir", "./web")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "helperslots")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.retry_interval", 2*time.Second)
	v.SetDefault("database.sqlite_path", "helperslots.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "helper-slots")

	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.queue", "helperslots:notifications")
	v.SetDefault("notify.topic", "helperslots.confirmations")
	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the loaded configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.DBName == "" {
			return errors.New("database.dbname is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return errors.New("database.max_conns must be >= database.min_conns")
		}
	case "sqlite":
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			return errors.New("database.sqlite_path is required")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Notify.Driver {
	case "log":
	case "redis":
		if c.Notify.Queue == "" {
			return errors.New("notify.queue is required for the redis notifier")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka notifier")
		}
		if c.Notify.Topic == "" {
			return errors.New("notify.topic is required for the kafka notifier")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
