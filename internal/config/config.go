// Package config defines the top-level configuration for the arbitrage
// executor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBEXEC_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Genesis  GenesisConfig  `toml:"genesis"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Wallet   WalletConfig   `toml:"wallet"`
	Client   ClientConfig   `toml:"client"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig identifies the executor and its authority and seeds the
// safety limits used when no persisted state exists. Limits are integer
// amounts in base-token units; "0" disables a limit.
type EngineConfig struct {
	Address        string   `toml:"address"`
	Authority      string   `toml:"authority"`
	MaxTradeSize   string   `toml:"max_trade_size"`
	DailyLossLimit string   `toml:"daily_loss_limit"`
	LockKey        string   `toml:"lock_key"`
	LockTTL        duration `toml:"lock_ttl"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `toml:"backend"` // memory, postgres, sqlite
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the single-node database settings.
type SQLiteConfig struct {
	Path        string   `toml:"path"`
	BusyTimeout duration `toml:"busy_timeout"`
}

// RedisConfig holds Redis connection parameters plus the event bus names.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	EventChannel string `toml:"event_channel"`
	EventStream  string `toml:"event_stream"`
	StreamMaxLen int    `toml:"stream_max_len"`
	KeyPrefix    string `toml:"key_prefix"` // namespace for lock, rate limit and signature keys
}

// KafkaConfig holds the event topic settings.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// WalletConfig holds the authority key used by arbctl to sign requests.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ClientConfig points arbctl at a running server.
type ClientConfig struct {
	ServerURL string   `toml:"server_url"`
	Timeout   duration `toml:"timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	SignatureMaxSkew duration `toml:"signature_max_skew"`
	ShutdownTimeout  duration `toml:"shutdown_timeout"`
	RateLimit        int      `toml:"rate_limit"` // requests per rate_window per client; 0 disables (needs redis)
	RateWindow       duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Address:        "0x0000000000000000000000000000000000000a11",
			MaxTradeSize:   "0",
			DailyLossLimit: "0",
			LockKey:        "arbexec:engine",
			LockTTL:        duration{30 * time.Second},
		},
		Genesis: GenesisConfig{
			Lender: LenderConfig{
				Address:    "0x0000000000000000000000000000000000001e4d",
				PremiumBps: 5,
			},
		},
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "arbexec",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 1,
		},
		SQLite: SQLiteConfig{
			Path:        "arbexec.db",
			BusyTimeout: duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			EventChannel: "arbexec:events",
			EventStream:  "arbexec:events:stream",
			StreamMaxLen: 10000,
			KeyPrefix:    "arbexec",
		},
		Kafka: KafkaConfig{
			Topic:        "arbexec.events",
			BatchTimeout: duration{50 * time.Millisecond},
		},
		Server: ServerConfig{
			Port:             8080,
			SignatureMaxSkew: duration{30 * time.Second},
			ShutdownTimeout:  duration{10 * time.Second},
			RateWindow:       duration{time.Second},
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8080",
			Timeout:   duration{15 * time.Second},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"execute": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for StorageConfig.Backend.
var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, execute)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	self, err := parseAddress(c.Engine.Address)
	if err != nil {
		errs = append(errs, "engine: address "+err.Error())
	}
	authority, err := parseAddress(c.Engine.Authority)
	if err != nil {
		errs = append(errs, "engine: authority "+err.Error())
	}
	if self != (common.Address{}) && self == authority {
		errs = append(errs, "engine: authority must differ from the engine address")
	}
	if _, err := ParseBaseUnits(c.Engine.MaxTradeSize); err != nil {
		errs = append(errs, "engine: max_trade_size "+err.Error())
	}
	if _, err := ParseBaseUnits(c.Engine.DailyLossLimit); err != nil {
		errs = append(errs, "engine: daily_loss_limit "+err.Error())
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be positive")
	}

	// Genesis
	errs = append(errs, c.Genesis.validate()...)

	// Storage
	backend := strings.ToLower(c.Storage.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres, sqlite)", c.Storage.Backend))
	}
	if backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if backend == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.DB < 0 {
			errs = append(errs, "redis: db must be >= 0")
		}
		if c.Redis.EventChannel == "" && c.Redis.EventStream == "" {
			errs = append(errs, "redis: at least one of event_channel or event_stream must be set")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// Server
	if strings.ToLower(c.Mode) == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be positive")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && (!c.Redis.Enabled || c.Server.RateWindow.Duration <= 0) {
			errs = append(errs, "server: rate_limit needs redis.enabled and a positive rate_window")
		}
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EngineAddress returns the parsed engine address. Call after Validate.
func (c *Config) EngineAddress() common.Address {
	return common.HexToAddress(c.Engine.Address)
}

// AuthorityAddress returns the parsed authority address. Call after Validate.
func (c *Config) AuthorityAddress() common.Address {
	return common.HexToAddress(c.Engine.Authority)
}

// HolderAddress resolves a genesis holder: "engine", "authority", "lender"
// or a hex address.
func (c *Config) HolderAddress(holder string) (common.Address, error) {
	switch strings.ToLower(strings.TrimSpace(holder)) {
	case "engine":
		return c.EngineAddress(), nil
	case "authority":
		return c.AuthorityAddress(), nil
	case "lender":
		return common.HexToAddress(c.Genesis.Lender.Address), nil
	}
	return parseAddress(holder)
}

// parseAddress accepts a non-zero hex address.
func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, fmt.Errorf("must not be empty")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("must not be the zero address")
	}
	return addr, nil
}
