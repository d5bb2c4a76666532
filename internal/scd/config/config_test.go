package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 50051, cfg.GRPCPort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Hour, cfg.CacheTTLLatest)
	assert.Equal(t, ratelimit.Limit{PermitsPerSecond: 50, Burst: 50}, cfg.RateLimits["jobService"])
	assert.Equal(t, float64(100), cfg.DefaultLimit().PermitsPerSecond)
	assert.Equal(t, 10*time.Millisecond, cfg.WriteRetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.CacheEvictAgain)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
DB_USER: "scd"
DB_NAME: "scd"
JWT_SECRET: "secret"
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "scd-versions", cfg.Topic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, Default().TTLs(), cfg.TTLs())
	assert.Equal(t, uint64(1), cfg.WriteRetries)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
DB_HOST: "db.internal"
DB_USER: "scd"
DB_NAME: "scd"
JWT_SECRET: "from-file"
`)
	t.Setenv("SCD_DB_HOST", "postgres")
	t.Setenv("SCD_GRPC_PORT", "6000")
	t.Setenv("SCD_JWT_SECRET", "from-env")
	t.Setenv("SCD_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("SCD_CACHE_TTL_CRITERIA", "5m")
	t.Setenv("SCD_WRITE_RETRIES", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBHost)
	assert.Equal(t, 6000, cfg.GRPCPort)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.TTLs().Criteria)
	assert.Equal(t, uint64(3), cfg.WriteRetries)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "GRPC_PORT: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("SCD_CACHE_TTL_LATEST", "forever")
		_, err := Load(writeConfig(t, "DB_USER: scd\nDB_NAME: scd\nJWT_SECRET: s\n"))
		assert.ErrorContains(t, err, "SCD_CACHE_TTL_LATEST")
	})

	t.Run("invalid settings are reported together", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
HTTP_PORT: 50051
KAFKA_BROKERS: ["localhost:9092"]
TOPIC: ""
RATE_LIMITS:
  jobService:
    PERMITS_PER_SECOND: 0
`))
		require.True(t, errors.Is(err, e.ErrValidation), "got %v", err)

		var verr *e.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.ErrorContains(t, err, "must differ")
		assert.ErrorContains(t, err, "JWT_SECRET is required")
		assert.ErrorContains(t, err, "TOPIC is required")
		assert.ErrorContains(t, err, "RATE_LIMITS.jobService.PERMITS_PER_SECOND")
	})
}

func TestConfig_Conversions(t *testing.T) {
	cfg := Default()
	cfg.DBUser, cfg.DBName = "scd", "scd_test"
	cfg.RedisAddr = "redis:6379"

	dbCfg := cfg.Database()
	assert.Equal(t, "scd_test", dbCfg.DBName)
	assert.Equal(t, 25, dbCfg.MaxOpenConns)

	assert.Equal(t, "redis:6379", cfg.Cache().Addr)
	assert.Equal(t, "scd", cfg.Cache().Prefix)

	cfg.RateLimits = nil
	assert.Equal(t, ratelimit.Limit{PermitsPerSecond: 100, Burst: 100}, cfg.DefaultLimit())
}

func TestPath(t *testing.T) {
	assert.Equal(t, DefaultPath, Path())
	t.Setenv("SCD_CONFIG", "/etc/scd/config.yaml")
	assert.Equal(t, "/etc/scd/config.yaml", Path())
}
