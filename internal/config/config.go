package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Pairing     PairingConfig     `yaml:"pairing"`
	Session     SessionConfig     `yaml:"session"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Integration IntegrationConfig `yaml:"integration"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the REST/WebSocket listener
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents operator API token configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PairingConfig governs pairing token issuance and validation
type PairingConfig struct {
	TokenTTL       time.Duration `yaml:"token_ttl"`
	CodeLength     int           `yaml:"code_length"`
	UserRateLimit  int           `yaml:"user_rate_limit"`
	UserRateWindow time.Duration `yaml:"user_rate_window"`
	AddrRateLimit  int           `yaml:"addr_rate_limit"`
	AddrRateWindow time.Duration `yaml:"addr_rate_window"`
}

// SessionConfig governs session lifetimes and store protection
type SessionConfig struct {
	TokenTTL         time.Duration `yaml:"token_ttl"`
	IdleThreshold    time.Duration `yaml:"idle_threshold"`
	CreateRateLimit  int           `yaml:"create_rate_limit"`
	CreateRateWindow time.Duration `yaml:"create_rate_window"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepBatchSize   int           `yaml:"sweep_batch_size"`
}

// GatewayConfig governs the realtime command gateway
type GatewayConfig struct {
	CommandRateLimit  int           `yaml:"command_rate_limit"`
	CommandRateWindow time.Duration `yaml:"command_rate_window"`
	SendQueueSize     int           `yaml:"send_queue_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
}

// IntegrationConfig governs outbound event forwarding
type IntegrationConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
}

// MQTTConfig represents an MQTT forwarding target
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for tests and
// single-node dev runs without a config file
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if webhook := os.Getenv("WEBHOOK_URL"); webhook != "" {
		c.Integration.WebhookURL = webhook
	}
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}

	if c.Pairing.TokenTTL == 0 {
		c.Pairing.TokenTTL = 5 * time.Minute
	}
	if c.Pairing.CodeLength == 0 {
		c.Pairing.CodeLength = 6
	}
	if c.Pairing.UserRateLimit == 0 {
		c.Pairing.UserRateLimit = 5
	}
	if c.Pairing.UserRateWindow == 0 {
		c.Pairing.UserRateWindow = 5 * time.Minute
	}
	if c.Pairing.AddrRateLimit == 0 {
		c.Pairing.AddrRateLimit = 10
	}
	if c.Pairing.AddrRateWindow == 0 {
		c.Pairing.AddrRateWindow = 5 * time.Minute
	}

	if c.Session.TokenTTL == 0 {
		c.Session.TokenTTL = time.Hour
	}
	if c.Session.IdleThreshold == 0 {
		c.Session.IdleThreshold = 30 * time.Minute
	}
	if c.Session.CreateRateLimit == 0 {
		c.Session.CreateRateLimit = 3
	}
	if c.Session.CreateRateWindow == 0 {
		c.Session.CreateRateWindow = time.Minute
	}
	if c.Session.BreakerThreshold == 0 {
		c.Session.BreakerThreshold = 5
	}
	if c.Session.BreakerCooldown == 0 {
		c.Session.BreakerCooldown = 30 * time.Second
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Session.SweepBatchSize == 0 {
		c.Session.SweepBatchSize = 500
	}

	if c.Gateway.CommandRateLimit == 0 {
		c.Gateway.CommandRateLimit = 30
	}
	if c.Gateway.CommandRateWindow == 0 {
		c.Gateway.CommandRateWindow = time.Minute
	}
	if c.Gateway.SendQueueSize == 0 {
		c.Gateway.SendQueueSize = 64
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = 30 * time.Second
	}
	if c.Gateway.PongTimeout == 0 {
		c.Gateway.PongTimeout = 60 * time.Second
	}
	if c.Gateway.MaxMessageBytes == 0 {
		c.Gateway.MaxMessageBytes = 64 << 10
	}

	if c.Integration.WebhookTimeout == 0 {
		c.Integration.WebhookTimeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Pairing.CodeLength < 4 || c.Pairing.CodeLength > 12 {
		return fmt.Errorf("pairing code length must be between 4 and 12, got %d", c.Pairing.CodeLength)
	}
	if c.Session.IdleThreshold > c.Session.TokenTTL {
		return fmt.Errorf("session idle threshold (%s) must not exceed token ttl (%s)",
			c.Session.IdleThreshold, c.Session.TokenTTL)
	}
	return nil
}
