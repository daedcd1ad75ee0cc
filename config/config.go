package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Events      EventsConfig      `mapstructure:"events"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Risk        RiskConfig        `mapstructure:"risk"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the ledger store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, postgres
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"` // 0 = go-redis default
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"` // -1 all, 0 none, 1 leader
}

// EventsConfig selects where settlement and risk events go.
type EventsConfig struct {
	Driver  string `mapstructure:"driver"` // log, redis, kafka
	Topic   string `mapstructure:"topic"`
	Channel string `mapstructure:"channel"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type SettlementConfig struct {
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	ClearingAccountID string        `mapstructure:"clearing_account_id"`
	ClearingCurrency  string        `mapstructure:"clearing_currency"`
	BatchParallelism  int           `mapstructure:"batch_parallelism"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
}

// ClearingID parses ClearingAccountID. uuid.Nil means none is configured.
func (s SettlementConfig) ClearingID() (uuid.UUID, error) {
	if strings.TrimSpace(s.ClearingAccountID) == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(s.ClearingAccountID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("settlement.clearing_account_id: %w", err)
	}
	return id, nil
}

type IdempotencyConfig struct {
	Driver        string        `mapstructure:"driver"` // memory, redis, postgres
	Retention     time.Duration `mapstructure:"retention"`
	InFlightTTL   time.Duration `mapstructure:"in_flight_ttl"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// RiskConfig mirrors the risk policy. Zero values fall back to the engine
// defaults and each configured weight replaces only its own factor's default.
// Weights and AmountMultiple are decimal strings.
type RiskConfig struct {
	ActivityDriver    string            `mapstructure:"activity_driver"` // memory, redis
	Weights           map[string]string `mapstructure:"weights"`
	ReviewThreshold   int               `mapstructure:"review_threshold"`
	BlockThreshold    int               `mapstructure:"block_threshold"`
	HistoryWindow     time.Duration     `mapstructure:"history_window"`
	HistoryLimit      int               `mapstructure:"history_limit"`
	MinHistory        int               `mapstructure:"min_history"`
	AmountMultiple    string            `mapstructure:"amount_multiple"`
	VelocityWindow    time.Duration     `mapstructure:"velocity_window"`
	VelocityMaxCount  int               `mapstructure:"velocity_max_count"`
	VelocityMaxAmount int64             `mapstructure:"velocity_max_amount"`
	NightStartHour    int               `mapstructure:"night_start_hour"`
	NightEndHour      int               `mapstructure:"night_end_hour"`

	RestrictedMerchantCategories []string `mapstructure:"restricted_merchant_categories"`
	HighRiskMerchantCategories   []string `mapstructure:"high_risk_merchant_categories"`
	DeniedDevices                []string `mapstructure:"denied_devices"`
	DeniedIPs                    []string `mapstructure:"denied_ips"`
}

// ParsedWeights parses the configured weights. Names must be scored factors
// and weights must not be negative.
func (r RiskConfig) ParsedWeights() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(r.Weights))
	var errs []error
	for name, raw := range r.Weights {
		if !domain.IsFactor(name) {
			errs = append(errs, fmt.Errorf("risk.weights.%s: unknown factor, want one of %s", name, strings.Join(domain.FactorNames(), ", ")))
			continue
		}
		w, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("risk.weights.%s: %q is not a decimal", name, raw))
			continue
		}
		if w.IsNegative() {
			errs = append(errs, fmt.Errorf("risk.weights.%s: must not be negative", name))
			continue
		}
		out[name] = w
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// ParsedAmountMultiple parses AmountMultiple. Zero means unset.
func (r RiskConfig) ParsedAmountMultiple() (decimal.Decimal, error) {
	raw := strings.TrimSpace(r.AmountMultiple)
	if raw == "" {
		return decimal.Zero, nil
	}
	m, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("risk.amount_multiple: %q is not a decimal", r.AmountMultiple)
	}
	if !m.IsZero() && m.LessThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.New("risk.amount_multiple must be greater than 1")
	}
	return m, nil
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: LSE_ (Ledger Settlement Engine).
// Nested keys use underscore: LSE_DATABASE_HOST, LSE_JWT_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.required_acks", -1)
	v.SetDefault("events.driver", "log")
	v.SetDefault("events.topic", "ledger.settlements")
	v.SetDefault("events.channel", "ledger:events")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("settlement.lock_timeout", "5s")
	v.SetDefault("settlement.clearing_account_id", "")
	v.SetDefault("settlement.clearing_currency", "USD")
	v.SetDefault("settlement.batch_parallelism", 8)
	v.SetDefault("settlement.max_batch_size", 100)
	v.SetDefault("idempotency.driver", "memory")
	v.SetDefault("idempotency.retention", "24h")
	v.SetDefault("idempotency.in_flight_ttl", "1m")
	v.SetDefault("idempotency.purge_interval", "5m")
	v.SetDefault("risk.activity_driver", "memory")
	v.SetDefault("risk.review_threshold", 30)
	v.SetDefault("risk.block_threshold", 70)
	v.SetDefault("risk.history_window", "720h")
	v.SetDefault("risk.history_limit", 500)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.limit", 600)
	v.SetDefault("ratelimit.window", "1m")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: LSE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("LSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want memory or postgres", c.Store.Driver))
	}
	switch c.Idempotency.Driver {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Errorf("idempotency.driver %q: want memory, redis or postgres", c.Idempotency.Driver))
	}
	switch c.Events.Driver {
	case "log", "redis", "kafka":
	default:
		errs = append(errs, fmt.Errorf("events.driver %q: want log, redis or kafka", c.Events.Driver))
	}
	switch c.Risk.ActivityDriver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("risk.activity_driver %q: want memory or redis", c.Risk.ActivityDriver))
	}
	if c.Events.Driver == "kafka" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required for the kafka event driver"))
	}
	if c.Risk.ReviewThreshold > 0 && c.Risk.BlockThreshold > 0 && c.Risk.ReviewThreshold >= c.Risk.BlockThreshold {
		errs = append(errs, errors.New("risk.review_threshold must be below risk.block_threshold"))
	}
	if _, err := c.Settlement.ClearingID(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Risk.ParsedWeights(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Risk.ParsedAmountMultiple(); err != nil {
		errs = append(errs, err)
	}
	// a reservation must outlive the longest lock wait, or a second request
	// can reclaim the key while the first is still settling
	if c.Idempotency.InFlightTTL <= c.Settlement.LockTimeout {
		errs = append(errs, fmt.Errorf("idempotency.in_flight_ttl (%s) must exceed settlement.lock_timeout (%s)",
			c.Idempotency.InFlightTTL, c.Settlement.LockTimeout))
	}
	return errors.Join(errs...)
}
