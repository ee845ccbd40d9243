// Package config provides configuration loading for the result hub.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the result hub
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Store      StoreConfig      `mapstructure:"store"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Activity   ActivityConfig   `mapstructure:"activity"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig holds per-connection limits
type WebSocketConfig struct {
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// BrokerConfig selects the broadcast channel backend
type BrokerConfig struct {
	Backend string `mapstructure:"backend"`
	Channel string `mapstructure:"channel"`
}

// RedisConfig holds Redis connection settings, shared by the broker and the
// enrichment cache
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// OpenSearchConfig holds document store connection settings
type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
}

// StoreConfig selects the document store backend and its indices
type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	ResultsIndex  string        `mapstructure:"results_index"`
	ImagesIndex   string        `mapstructure:"images_index"`
	KindsFile     string        `mapstructure:"kinds_file"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	MaxResults    int           `mapstructure:"max_results"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

// EnrichmentConfig holds the image cache settings
type EnrichmentConfig struct {
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// ActivityConfig holds activity record persistence settings
type ActivityConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	WriteTimeout time.Duration  `mapstructure:"write_timeout"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString returns the pgx connection URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.max_connections", 0)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "resulthub")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("broker.backend", "redis")
	v.SetDefault("broker.channel", "RAPD_RESULTS")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure", true)

	v.SetDefault("store.backend", "opensearch")
	v.SetDefault("store.results_index", "results")
	v.SetDefault("store.images_index", "images")
	v.SetDefault("store.kinds_file", "")
	v.SetDefault("store.query_timeout", "10s")
	v.SetDefault("store.max_results", 1000)
	v.SetDefault("store.lookup_timeout", "5s")

	v.SetDefault("enrichment.cache_enabled", false)
	v.SetDefault("enrichment.cache_ttl", "10m")

	v.SetDefault("activity.enabled", false)
	v.SetDefault("activity.write_timeout", "5s")
	v.SetDefault("activity.postgres.host", "localhost")
	v.SetDefault("activity.postgres.port", 5432)
	v.SetDefault("activity.postgres.user", "resulthub")
	v.SetDefault("activity.postgres.password", "")
	v.SetDefault("activity.postgres.database", "resulthub")
	v.SetDefault("activity.postgres.sslmode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/resulthub")
	}

	// Environment variables override (RESULTHUB_AUTH_SECRET, etc.)
	v.SetEnvPrefix("RESULTHUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Only fail if a specific config path was given
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Broker.Backend {
	case "redis", "nats":
	default:
		return fmt.Errorf("unsupported broker backend %q", c.Broker.Backend)
	}
	switch c.Store.Backend {
	case "opensearch", "memory":
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	if c.Broker.Channel == "" {
		return fmt.Errorf("broker.channel must not be empty")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_period must be shorter than websocket.pong_wait")
	}
	return nil
}
