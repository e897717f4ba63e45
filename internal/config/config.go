// Package config loads process configuration from defaults, an optional
// YAML file named by HUBCORE_CONFIG and HUBCORE_* environment variables, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Actuator transports.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
	TransportLog  = "log"
)

// Config is the configuration shared by the hub core processes.
type Config struct {
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`

	NATS     NATSConfig     `yaml:"nats"`
	Streams  StreamsConfig  `yaml:"streams"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Actuator ActuatorConfig `yaml:"actuator"`
}

// NATSConfig locates the broker.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// StreamConfig describes one consumed or produced stream.
type StreamConfig struct {
	Name     string        `yaml:"name"`
	Subject  string        `yaml:"subject"`
	Durable  string        `yaml:"durable"`
	PollWait time.Duration `yaml:"poll_wait"`
	Batch    int           `yaml:"batch"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// StreamsConfig groups the three streams of the pipeline.
type StreamsConfig struct {
	Sensors   StreamConfig `yaml:"sensors"`
	Hubs      StreamConfig `yaml:"hubs"`
	Snapshots StreamConfig `yaml:"snapshots"`
}

// PostgresConfig configures the topology store. An empty DSN selects the
// in-memory store.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// RedisConfig configures the snapshot mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ActuatorConfig configures action dispatch.
type ActuatorConfig struct {
	Transport   string        `yaml:"transport"`
	BaseURL     string        `yaml:"base_url"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTSubject  string        `yaml:"jwt_subject"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	Timeout     time.Duration `yaml:"timeout"`
	MQTTBroker  string        `yaml:"mqtt_broker"`
	TopicPrefix string        `yaml:"topic_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:     "info",
		LogFormat:    "json",
		MetricsAddr:  ":9102",
		ShutdownWait: 3 * time.Second,
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectTimeout: 5 * time.Second,
		},
		Streams: StreamsConfig{
			Sensors: StreamConfig{
				Name:     "SENSORS",
				Subject:  "telemetry.sensors",
				Durable:  "hubcore-aggregator",
				PollWait: 100 * time.Millisecond,
				Batch:    100,
			},
			Hubs: StreamConfig{
				Name:     "HUBS",
				Subject:  "telemetry.hubs",
				Durable:  "hubcore-analyzer-hubs",
				PollWait: 5 * time.Second,
				Batch:    100,
			},
			Snapshots: StreamConfig{
				Name:     "SNAPSHOTS",
				Subject:  "telemetry.snapshots",
				Durable:  "hubcore-analyzer-snapshots",
				PollWait: 200 * time.Millisecond,
				Batch:    100,
				MaxAge:   24 * time.Hour,
			},
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Actuator: ActuatorConfig{
			Transport:   TransportLog,
			JWTSubject:  "hubcore-analyzer",
			TokenTTL:    5 * time.Minute,
			Timeout:     5 * time.Second,
			TopicPrefix: "hubs",
		},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("HUBCORE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getenvDefault("HUBCORE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("HUBCORE_LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsAddr = getenvDefault("HUBCORE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.ShutdownWait = getenvDuration("HUBCORE_SHUTDOWN_WAIT", cfg.ShutdownWait)

	cfg.NATS.URL = getenvDefault("HUBCORE_NATS_URL", cfg.NATS.URL)
	cfg.Streams.Sensors.PollWait = getenvDuration("HUBCORE_SENSORS_POLL_WAIT", cfg.Streams.Sensors.PollWait)
	cfg.Streams.Hubs.PollWait = getenvDuration("HUBCORE_HUBS_POLL_WAIT", cfg.Streams.Hubs.PollWait)
	cfg.Streams.Snapshots.PollWait = getenvDuration("HUBCORE_SNAPSHOTS_POLL_WAIT", cfg.Streams.Snapshots.PollWait)

	cfg.Postgres.DSN = getenvDefault("HUBCORE_PG_DSN", cfg.Postgres.DSN)
	cfg.Postgres.EnsureSchema = getenvBool("HUBCORE_PG_ENSURE_SCHEMA", cfg.Postgres.EnsureSchema)

	cfg.Redis.Addr = getenvDefault("HUBCORE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("HUBCORE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("HUBCORE_REDIS_DB", cfg.Redis.DB)

	cfg.Actuator.Transport = strings.ToLower(getenvDefault("HUBCORE_ACTUATOR_TRANSPORT", cfg.Actuator.Transport))
	cfg.Actuator.BaseURL = getenvDefault("HUBCORE_ACTUATOR_URL", cfg.Actuator.BaseURL)
	cfg.Actuator.JWTSecret = getenvDefault("HUBCORE_ACTUATOR_JWT_SECRET", cfg.Actuator.JWTSecret)
	cfg.Actuator.Timeout = getenvDuration("HUBCORE_ACTUATOR_TIMEOUT", cfg.Actuator.Timeout)
	cfg.Actuator.MQTTBroker = getenvDefault("HUBCORE_MQTT_BROKER", cfg.Actuator.MQTTBroker)
}

// Validate checks required settings.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	if c.NATS.URL == "" {
		return errors.New("config: nats url required")
	}
	for name, s := range map[string]StreamConfig{
		"sensors":   c.Streams.Sensors,
		"hubs":      c.Streams.Hubs,
		"snapshots": c.Streams.Snapshots,
	} {
		if s.Name == "" || s.Subject == "" || s.Durable == "" {
			return fmt.Errorf("config: stream %s needs name, subject and durable", name)
		}
		if s.PollWait <= 0 {
			return fmt.Errorf("config: stream %s poll wait must be positive", name)
		}
	}
	if c.Streams.Hubs.Durable == c.Streams.Snapshots.Durable {
		return errors.New("config: hub and snapshot consumers need distinct durable names")
	}
	switch c.Actuator.Transport {
	case TransportHTTP:
		if c.Actuator.BaseURL == "" {
			return errors.New("config: actuator base url required for http transport")
		}
	case TransportMQTT:
		if c.Actuator.MQTTBroker == "" {
			return errors.New("config: mqtt broker required for mqtt transport")
		}
	case TransportLog:
	default:
		return fmt.Errorf("config: unknown actuator transport %q", c.Actuator.Transport)
	}
	if c.ShutdownWait <= 0 {
		return errors.New("config: shutdown wait must be positive")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
