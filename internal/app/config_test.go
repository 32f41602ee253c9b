package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-costing/internal/costing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "expense", cfg.PriceSource)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.Equal(t, "30 23 * * *", cfg.BatchCron)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)

	opts := cfg.Engine()
	assert.Equal(t, costing.PriceSourceExpense, opts.PriceSource)
	assert.Equal(t, 4, opts.Concurrency)
	assert.False(t, opts.StrictBOM)
	assert.False(t, opts.RequireVolumeMap)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfigReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	body := "COSTING_PRICE_SOURCE=daily_log\nCOSTING_BATCH_CONCURRENCY=2\nCOSTING_STRICT_BOM=true\n"
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("COSTING_PRICE_SOURCE")
		_ = os.Unsetenv("COSTING_STRICT_BOM")
	})
	t.Setenv("COSTING_BATCH_CONCURRENCY", "8")

	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	opts := cfg.Engine()
	assert.Equal(t, costing.PriceSourceDailyLog, opts.PriceSource)
	assert.True(t, opts.StrictBOM)
	assert.Equal(t, 8, opts.Concurrency)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Run("price source", func(t *testing.T) {
		t.Setenv("COSTING_PRICE_SOURCE", "average")
		_, err := LoadConfig(missing)
		require.Error(t, err)
	})
	t.Run("concurrency", func(t *testing.T) {
		t.Setenv("COSTING_BATCH_CONCURRENCY", "0")
		_, err := LoadConfig(missing)
		require.Error(t, err)
	})
	t.Run("timezone", func(t *testing.T) {
		t.Setenv("COSTING_TIMEZONE", "Mars/Olympus")
		_, err := LoadConfig(missing)
		require.Error(t, err)
	})
	t.Run("worker concurrency", func(t *testing.T) {
		t.Setenv("WORKER_CONCURRENCY", "0")
		_, err := LoadConfig(missing)
		require.Error(t, err)
	})
	t.Run("pool size", func(t *testing.T) {
		t.Setenv("PG_MAX_CONNS", "-1")
		_, err := LoadConfig(missing)
		require.Error(t, err)
	})
}

func TestConnectionSettings(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	t.Setenv("COSTING_BATCH_CONCURRENCY", "3")
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("REDIS_DB", "4")

	cfg, err := LoadConfig(missing)
	require.NoError(t, err)

	pg := cfg.Postgres("costing-worker")
	assert.Equal(t, cfg.PGDSN, pg.DSN)
	assert.Equal(t, int32(7), pg.MaxConns)
	assert.Equal(t, int32(1), pg.MinConns)
	assert.Equal(t, "costing-worker", pg.ApplicationName)

	redis := cfg.Redis()
	assert.Equal(t, "127.0.0.1:6379", redis.Addr)
	assert.Equal(t, "s3cret", redis.Password)
	assert.Equal(t, 4, redis.DB)

	t.Setenv("PG_MAX_CONNS", "12")
	cfg, err = LoadConfig(missing)
	require.NoError(t, err)
	assert.Equal(t, int32(12), cfg.Postgres("costing").MaxConns)
}

func TestIsProduction(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
	assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
