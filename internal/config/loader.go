package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBEXEC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBEXEC_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Address, "ARBEXEC_ENGINE_ADDRESS")
	setStr(&cfg.Engine.Authority, "ARBEXEC_ENGINE_AUTHORITY")
	setStr(&cfg.Engine.MaxTradeSize, "ARBEXEC_ENGINE_MAX_TRADE_SIZE")
	setStr(&cfg.Engine.DailyLossLimit, "ARBEXEC_ENGINE_DAILY_LOSS_LIMIT")
	setStr(&cfg.Engine.LockKey, "ARBEXEC_ENGINE_LOCK_KEY")
	setDuration(&cfg.Engine.LockTTL, "ARBEXEC_ENGINE_LOCK_TTL")

	// ── Lender ──
	setStr(&cfg.Genesis.Lender.Address, "ARBEXEC_LENDER_ADDRESS")
	setInt64(&cfg.Genesis.Lender.PremiumBps, "ARBEXEC_LENDER_PREMIUM_BPS")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "ARBEXEC_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBEXEC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBEXEC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBEXEC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBEXEC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBEXEC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBEXEC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBEXEC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBEXEC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBEXEC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBEXEC_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "ARBEXEC_SQLITE_PATH")
	setDuration(&cfg.SQLite.BusyTimeout, "ARBEXEC_SQLITE_BUSY_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBEXEC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBEXEC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBEXEC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBEXEC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBEXEC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBEXEC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBEXEC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.EventChannel, "ARBEXEC_REDIS_EVENT_CHANNEL")
	setStr(&cfg.Redis.EventStream, "ARBEXEC_REDIS_EVENT_STREAM")
	setInt(&cfg.Redis.StreamMaxLen, "ARBEXEC_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "ARBEXEC_REDIS_KEY_PREFIX")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "ARBEXEC_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "ARBEXEC_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "ARBEXEC_KAFKA_TOPIC")
	setDuration(&cfg.Kafka.BatchTimeout, "ARBEXEC_KAFKA_BATCH_TIMEOUT")

	// ── Server ──
	setInt(&cfg.Server.Port, "ARBEXEC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBEXEC_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.SignatureMaxSkew, "ARBEXEC_SERVER_SIGNATURE_MAX_SKEW")
	setDuration(&cfg.Server.ShutdownTimeout, "ARBEXEC_SERVER_SHUTDOWN_TIMEOUT")
	setInt(&cfg.Server.RateLimit, "ARBEXEC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ARBEXEC_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBEXEC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBEXEC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBEXEC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBEXEC_NOTIFY_EVENTS")

	// ── Wallet / client ──
	setStr(&cfg.Wallet.PrivateKey, "ARBEXEC_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBEXEC_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBEXEC_WALLET_KEY_PASSWORD")
	setStr(&cfg.Client.ServerURL, "ARBEXEC_CLIENT_SERVER_URL")
	setDuration(&cfg.Client.Timeout, "ARBEXEC_CLIENT_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBEXEC_MODE")
	setStr(&cfg.LogLevel, "ARBEXEC_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
