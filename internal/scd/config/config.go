// Package config loads the service configuration from a YAML file.
// Environment variables prefixed with SCD_ override the file, e.g.
// SCD_DB_HOST or SCD_KAFKA_BROKERS=broker-1:9092,broker-2:9092.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gartstein/scd/internal/scd/cache"
	"github.com/gartstein/scd/internal/scd/db"
	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/ratelimit"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SCD"

// DefaultPath is where the service looks for its configuration when
// SCD_CONFIG is not set.
const DefaultPath = "internal/scd/config/config.yaml"

// Config struct for YAML configuration
type Config struct {
	GRPCPort int `yaml:"GRPC_PORT"`
	HTTPPort int `yaml:"HTTP_PORT"`

	DBHost            string        `yaml:"DB_HOST"`
	DBPort            int           `yaml:"DB_PORT"`
	DBUser            string        `yaml:"DB_USER"`
	DBPassword        string        `yaml:"DB_PASSWORD"`
	DBName            string        `yaml:"DB_NAME"`
	DBSSLMode         string        `yaml:"DB_SSLMODE"`
	DBMaxOpenConns    int           `yaml:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `yaml:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime time.Duration `yaml:"DB_CONN_MAX_LIFETIME"`

	// An empty RedisAddr disables the cache.
	RedisAddr         string        `yaml:"REDIS_ADDR"`
	RedisPassword     string        `yaml:"REDIS_PASSWORD"`
	RedisDB           int           `yaml:"REDIS_DB"`
	CachePrefix       string        `yaml:"CACHE_PREFIX"`
	CacheTTLLatest    time.Duration `yaml:"CACHE_TTL_LATEST"`
	CacheTTLHistory   time.Duration `yaml:"CACHE_TTL_HISTORY"`
	CacheTTLCriteria  time.Duration `yaml:"CACHE_TTL_CRITERIA"`
	CacheTTLAggregate time.Duration `yaml:"CACHE_TTL_AGGREGATE"`

	// CacheEvictAgain repeats the evictions of a write after this delay.
	// Negative disables the repeat.
	CacheEvictAgain time.Duration `yaml:"CACHE_EVICT_AGAIN"`

	// No brokers disables version events.
	KafkaBrokers    []string `yaml:"KAFKA_BROKERS"`
	Topic           string   `yaml:"TOPIC"`
	TopicPartitions int      `yaml:"TOPIC_PARTITIONS"`
	ConsumerGroup   string   `yaml:"CONSUMER_GROUP"`

	JWTSecret      string   `yaml:"JWT_SECRET"`
	AllowedOrigins []string `yaml:"ALLOWED_ORIGINS"`

	// RateLimits is keyed by service name, e.g. "jobService". The "default"
	// entry applies to services without their own.
	RateLimits map[string]ratelimit.Limit `yaml:"RATE_LIMITS"`

	WriteRetries    uint64        `yaml:"WRITE_RETRIES"`
	WriteRetryDelay time.Duration `yaml:"WRITE_RETRY_DELAY"`
}

// Default returns the configuration used for any key the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		GRPCPort:          50051,
		HTTPPort:          8080,
		DBHost:            "localhost",
		DBPort:            5432,
		DBSSLMode:         "disable",
		DBMaxOpenConns:    25,
		DBMaxIdleConns:    5,
		DBConnMaxLifetime: 30 * time.Minute,
		CachePrefix:       "scd",
		CacheTTLLatest:    cache.DefaultTTLs.Latest,
		CacheTTLHistory:   cache.DefaultTTLs.History,
		CacheTTLCriteria:  cache.DefaultTTLs.Criteria,
		CacheTTLAggregate: cache.DefaultTTLs.Aggregate,
		CacheEvictAgain:   500 * time.Millisecond,
		Topic:             "scd-versions",
		TopicPartitions:   3,
		ConsumerGroup:     "scd-cache-invalidator",
		AllowedOrigins:    []string{"*"},
		RateLimits: map[string]ratelimit.Limit{
			ratelimit.DefaultName: {PermitsPerSecond: 100, Burst: 100},
		},
		WriteRetries:    1,
		WriteRetryDelay: 10 * time.Millisecond,
	}
}

// Load reads path over the defaults, then applies SCD_* environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if err := applyEnv(v, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns SCD_CONFIG or DefaultPath.
func Path() string {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if p := v.GetString("CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func applyEnv(v *viper.Viper, cfg *Config) error {
	ints := map[string]*int{
		"GRPC_PORT":         &cfg.GRPCPort,
		"HTTP_PORT":         &cfg.HTTPPort,
		"DB_PORT":           &cfg.DBPort,
		"DB_MAX_OPEN_CONNS": &cfg.DBMaxOpenConns,
		"DB_MAX_IDLE_CONNS": &cfg.DBMaxIdleConns,
		"REDIS_DB":          &cfg.RedisDB,
		"TOPIC_PARTITIONS":  &cfg.TopicPartitions,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	strs := map[string]*string{
		"DB_HOST":        &cfg.DBHost,
		"DB_USER":        &cfg.DBUser,
		"DB_PASSWORD":    &cfg.DBPassword,
		"DB_NAME":        &cfg.DBName,
		"DB_SSLMODE":     &cfg.DBSSLMode,
		"REDIS_ADDR":     &cfg.RedisAddr,
		"REDIS_PASSWORD": &cfg.RedisPassword,
		"CACHE_PREFIX":   &cfg.CachePrefix,
		"TOPIC":          &cfg.Topic,
		"CONSUMER_GROUP": &cfg.ConsumerGroup,
		"JWT_SECRET":     &cfg.JWTSecret,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	durations := map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME": &cfg.DBConnMaxLifetime,
		"CACHE_TTL_LATEST":     &cfg.CacheTTLLatest,
		"CACHE_TTL_HISTORY":    &cfg.CacheTTLHistory,
		"CACHE_TTL_CRITERIA":   &cfg.CacheTTLCriteria,
		"CACHE_TTL_AGGREGATE":  &cfg.CacheTTLAggregate,
		"CACHE_EVICT_AGAIN":    &cfg.CacheEvictAgain,
		"WRITE_RETRY_DELAY":    &cfg.WriteRetryDelay,
	}
	for key, dst := range durations {
		if !v.IsSet(key) {
			continue
		}
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return fmt.Errorf("%s_%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	lists := map[string]*[]string{
		"KAFKA_BROKERS":   &cfg.KafkaBrokers,
		"ALLOWED_ORIGINS": &cfg.AllowedOrigins,
	}
	for key, dst := range lists {
		if v.IsSet(key) {
			*dst = splitList(v.GetString(key))
		}
	}

	if v.IsSet("WRITE_RETRIES") {
		cfg.WriteRetries = v.GetUint64("WRITE_RETRIES")
	}
	return nil
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

// Validate reports every setting the service cannot start with.
func (c *Config) Validate() error {
	var msgs []string
	if c.GRPCPort <= 0 || c.HTTPPort <= 0 {
		msgs = append(msgs, "GRPC_PORT and HTTP_PORT must be positive")
	}
	if c.GRPCPort == c.HTTPPort {
		msgs = append(msgs, "GRPC_PORT and HTTP_PORT must differ")
	}
	if c.DBName == "" || c.DBUser == "" {
		msgs = append(msgs, "DB_NAME and DB_USER are required")
	}
	if c.JWTSecret == "" {
		msgs = append(msgs, "JWT_SECRET is required")
	}
	if len(c.KafkaBrokers) > 0 && c.Topic == "" {
		msgs = append(msgs, "TOPIC is required when KAFKA_BROKERS is set")
	}
	for name, l := range c.RateLimits {
		if l.PermitsPerSecond <= 0 {
			msgs = append(msgs, fmt.Sprintf("RATE_LIMITS.%s.PERMITS_PER_SECOND must be positive", name))
		}
	}
	if len(msgs) > 0 {
		return e.Invalid(msgs...)
	}
	return nil
}

func (c *Config) Database() *db.Config {
	return &db.Config{
		Host:            c.DBHost,
		Port:            c.DBPort,
		User:            c.DBUser,
		Password:        c.DBPassword,
		DBName:          c.DBName,
		SSLMode:         c.DBSSLMode,
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}

func (c *Config) Cache() cache.Config {
	return cache.Config{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Prefix:   c.CachePrefix,
	}
}

func (c *Config) TTLs() cache.TTLs {
	return cache.TTLs{
		Latest:    c.CacheTTLLatest,
		History:   c.CacheTTLHistory,
		Criteria:  c.CacheTTLCriteria,
		Aggregate: c.CacheTTLAggregate,
	}
}

// DefaultLimit is the limit of services RateLimits does not name.
func (c *Config) DefaultLimit() ratelimit.Limit {
	if l, ok := c.RateLimits[ratelimit.DefaultName]; ok {
		return l
	}
	return Default().RateLimits[ratelimit.DefaultName]
}
