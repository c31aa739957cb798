package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Lifecycle   LifecycleConfig
	Sweep       SweepConfig
	Match       MatchConfig
	Materialize MaterializeConfig
	LogLevel    string `mapstructure:"LOG_LEVEL"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`

	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool `mapstructure:"POSTGRES_AUTO_MIGRATE"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// KafkaConfig selects where lifecycle transitions are published. With no
// brokers, events are dropped.
type KafkaConfig struct {
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"KAFKA_TOPIC"`
}

// LifecycleConfig holds the windows around departure and arrival.
type LifecycleConfig struct {
	DepartingPeriod time.Duration `mapstructure:"LIFECYCLE_DEPARTING_PERIOD"`
	ArrivingPeriod  time.Duration `mapstructure:"LIFECYCLE_ARRIVING_PERIOD"`
}

// SweepConfig controls the in-process lifecycle sweep. Interval 0 disables it.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

// MatchConfig holds search tuning.
type MatchConfig struct {
	LenientSlack     time.Duration `mapstructure:"MATCH_LENIENT_SLACK"`
	AverageSpeedKmph float64       `mapstructure:"MATCH_AVERAGE_SPEED_KMPH"`
	CacheTTL         time.Duration `mapstructure:"MATCH_CACHE_TTL"`
}

// MaterializeConfig holds the default horizon for new patterns.
type MaterializeConfig struct {
	DefaultWeeks int `mapstructure:"MATERIALIZE_DEFAULT_WEEKS"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Enabled reports whether a broker list is configured.
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	setDefaults(v)

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = v.ReadInConfig()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// ── Defaults ────────────────────────────────────────
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "5s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "ridebroker")
	v.SetDefault("POSTGRES_PASSWORD", "ridebroker_secret")
	v.SetDefault("POSTGRES_DB", "ridebroker")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_CONNS", 50)
	v.SetDefault("POSTGRES_MIN_CONNS", 10)
	v.SetDefault("POSTGRES_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "ride-lifecycle")

	v.SetDefault("LIFECYCLE_DEPARTING_PERIOD", "15m")
	v.SetDefault("LIFECYCLE_ARRIVING_PERIOD", "15m")
	v.SetDefault("SWEEP_INTERVAL", "1m")

	v.SetDefault("MATCH_LENIENT_SLACK", "30m")
	v.SetDefault("MATCH_AVERAGE_SPEED_KMPH", 40)
	v.SetDefault("MATCH_CACHE_TTL", "15s")

	v.SetDefault("MATERIALIZE_DEFAULT_WEEKS", 4)

	v.SetDefault("LOG_LEVEL", "info")
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{LogLevel: v.GetString("LOG_LEVEL")}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         v.GetString("SERVER_HOST"),
		Port:         v.GetInt("SERVER_PORT"),
		ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     v.GetString("POSTGRES_HOST"),
		Port:     v.GetInt("POSTGRES_PORT"),
		User:     v.GetString("POSTGRES_USER"),
		Password: v.GetString("POSTGRES_PASSWORD"),
		DBName:   v.GetString("POSTGRES_DB"),
		SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: v.GetInt32("POSTGRES_MIN_CONNS"),

		AutoMigrate: v.GetBool("POSTGRES_AUTO_MIGRATE"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Kafka ───────────────────────────────────────────
	cfg.Kafka = KafkaConfig{
		Brokers: splitList(v.GetString("KAFKA_BROKERS")),
		Topic:   v.GetString("KAFKA_TOPIC"),
	}

	// ── Lifecycle ───────────────────────────────────────
	cfg.Lifecycle = LifecycleConfig{
		DepartingPeriod: v.GetDuration("LIFECYCLE_DEPARTING_PERIOD"),
		ArrivingPeriod:  v.GetDuration("LIFECYCLE_ARRIVING_PERIOD"),
	}
	cfg.Sweep = SweepConfig{Interval: v.GetDuration("SWEEP_INTERVAL")}

	// ── Matching ────────────────────────────────────────
	cfg.Match = MatchConfig{
		LenientSlack:     v.GetDuration("MATCH_LENIENT_SLACK"),
		AverageSpeedKmph: v.GetFloat64("MATCH_AVERAGE_SPEED_KMPH"),
		CacheTTL:         v.GetDuration("MATCH_CACHE_TTL"),
	}
	cfg.Materialize = MaterializeConfig{DefaultWeeks: v.GetInt("MATERIALIZE_DEFAULT_WEEKS")}

	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d out of range", c.Server.Port))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("POSTGRES_MIN_CONNS %d exceeds POSTGRES_MAX_CONNS %d", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.Lifecycle.DepartingPeriod < 0 || c.Lifecycle.ArrivingPeriod < 0 {
		errs = append(errs, errors.New("lifecycle periods must not be negative"))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}
	if c.Match.LenientSlack < 0 {
		errs = append(errs, errors.New("MATCH_LENIENT_SLACK must not be negative"))
	}
	if c.Match.AverageSpeedKmph <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_AVERAGE_SPEED_KMPH must be positive, got %v", c.Match.AverageSpeedKmph))
	}
	if c.Materialize.DefaultWeeks < 0 {
		errs = append(errs, errors.New("MATERIALIZE_DEFAULT_WEEKS must not be negative"))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
