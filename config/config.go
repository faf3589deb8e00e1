package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	AES       AESConfig       `mapstructure:"aes"`
	Log       LogConfig       `mapstructure:"log"`
	Bitcoin   BitcoinConfig   `mapstructure:"bitcoin"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Deposits  DepositsConfig  `mapstructure:"deposits"`
	Rates     RatesConfig     `mapstructure:"rates"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
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
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 64 hex chars (AES-256)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type BitcoinConfig struct {
	Network string `mapstructure:"network"` // mainnet, testnet
}

type AllocatorConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DepositsConfig drives the deposit observer and its Redis Streams consumer.
type DepositsConfig struct {
	ConfirmationThreshold int64         `mapstructure:"confirmation_threshold"` // used until an admin stores one
	WorkerEnabled         bool          `mapstructure:"worker_enabled"`
	Stream                string        `mapstructure:"stream"`
	Group                 string        `mapstructure:"group"`
	Consumer              string        `mapstructure:"consumer"`
	BatchSize             int64         `mapstructure:"batch_size"`
	Block                 time.Duration `mapstructure:"block"`
	ClaimIdle             time.Duration `mapstructure:"claim_idle"`
}

// RatesConfig configures the advisory BTC/USD lookup.
type RatesConfig struct {
	Sources           []string      `mapstructure:"sources"` // coinbase, coingecko
	CoinbaseURL       string        `mapstructure:"coinbase_url"`
	CoinGeckoURL      string        `mapstructure:"coingecko_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	FreshTTL          time.Duration `mapstructure:"fresh_ttl"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: MWL_ (merchant wallet ledger),
// nested keys use underscore: MWL_DATABASE_HOST, MWL_DEPOSITS_STREAM, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "merchant-wallet-ledger")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("bitcoin.network", "mainnet")
	v.SetDefault("allocator.max_attempts", 5)
	v.SetDefault("deposits.confirmation_threshold", 3)
	v.SetDefault("deposits.worker_enabled", true)
	v.SetDefault("deposits.stream", "chain:observations")
	v.SetDefault("deposits.group", "deposit-observer")
	v.SetDefault("deposits.consumer", "api-1")
	v.SetDefault("deposits.batch_size", 50)
	v.SetDefault("deposits.block", "5s")
	v.SetDefault("deposits.claim_idle", "1m")
	v.SetDefault("rates.sources", []string{"coinbase", "coingecko"})
	v.SetDefault("rates.coinbase_url", "https://api.coinbase.com/v2/prices/BTC-USD/spot")
	v.SetDefault("rates.coingecko_url", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd")
	v.SetDefault("rates.timeout", "3s")
	v.SetDefault("rates.fresh_ttl", "60s")
	v.SetDefault("rates.requests_per_second", 2)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Bitcoin.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("bitcoin.network must be mainnet or testnet, got %q", c.Bitcoin.Network)
	}
	if c.Allocator.MaxAttempts < 1 {
		return fmt.Errorf("allocator.max_attempts must be at least 1")
	}
	if c.Deposits.ConfirmationThreshold < 1 {
		return fmt.Errorf("deposits.confirmation_threshold must be at least 1")
	}
	return nil
}
