package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"papertrade/internal/currency"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	Store           string
	JWTIssuer       string
	JWTSecret       string
	JWTTTL          time.Duration
	WebSocketOrigin string
	Env             string
	LogLevel        string
	StartBalance    decimal.Decimal
	Currency        string

	QuoteBaseURL  string
	QuoteTimeout  time.Duration
	QuoteCacheTTL time.Duration
	RedisAddr     string

	KafkaBrokers []string
	KafkaTopic   string

	AutoReduce bool
	MinShares  decimal.Decimal
	MaxRetries int
}

// Load reads the optional file named by PAPERTRADE_CONFIG and PAPERTRADE_*
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv("PAPERTRADE_CONFIG"))
}

func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	var missing []string
	c.HTTPAddr = v.GetString("http_addr")
	c.Store = strings.ToLower(strings.TrimSpace(v.GetString("store")))
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return c, errors.New("invalid store: use postgres or memory")
	}
	c.DBDSN = v.GetString("db_dsn")
	if c.Store == StorePostgres && c.DBDSN == "" {
		missing = append(missing, "db_dsn")
	}
	c.JWTIssuer = v.GetString("jwt_issuer")
	c.JWTSecret = v.GetString("jwt_secret")
	if c.JWTSecret == "" {
		missing = append(missing, "jwt_secret")
	}
	c.JWTTTL = v.GetDuration("jwt_ttl")
	if c.JWTTTL <= 0 {
		return c, errors.New("invalid jwt_ttl")
	}
	c.WebSocketOrigin = v.GetString("ws_origin")
	c.Env = v.GetString("env")
	c.LogLevel = v.GetString("log_level")

	var err error
	if c.StartBalance, err = decimal.NewFromString(v.GetString("start_balance")); err != nil || c.StartBalance.IsNegative() {
		return c, errors.New("invalid start_balance")
	}
	c.Currency = strings.ToUpper(v.GetString("currency"))
	if !currency.Valid(c.Currency) {
		return c, fmt.Errorf("invalid currency %q", c.Currency)
	}

	c.QuoteBaseURL = v.GetString("quote.base_url")
	c.QuoteTimeout = v.GetDuration("quote.timeout")
	c.QuoteCacheTTL = v.GetDuration("quote.cache_ttl")
	c.RedisAddr = v.GetString("redis.addr")

	c.KafkaBrokers = splitList(v.GetString("kafka.brokers"))
	c.KafkaTopic = v.GetString("kafka.topic")

	c.AutoReduce = v.GetBool("settlement.auto_reduce")
	if c.MinShares, err = decimal.NewFromString(v.GetString("settlement.min_shares")); err != nil || !c.MinShares.IsPositive() {
		return c, errors.New("invalid settlement.min_shares")
	}
	c.MaxRetries = v.GetInt("settlement.max_retries")

	if len(missing) > 0 {
		return c, errors.New("missing required config: " + strings.Join(missing, ","))
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_dsn", "")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("jwt_issuer", "papertrade")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", "24h")
	v.SetDefault("ws_origin", "*")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("start_balance", "10000")
	v.SetDefault("currency", currency.Default)
	v.SetDefault("quote.base_url", "")
	v.SetDefault("quote.timeout", "8s")
	v.SetDefault("quote.cache_ttl", "15s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "papertrade.settlements")
	v.SetDefault("settlement.auto_reduce", true)
	v.SetDefault("settlement.min_shares", "1")
	v.SetDefault("settlement.max_retries", 3)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
