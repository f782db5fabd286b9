package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "PORT", "STORE_BACKEND", "DATABASE_URL", "POSTGRES_ADDR", "POSTGRES_USER",
		"POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_SSLMODE", "DB_MIGRATE", "MONGO_URI",
		"MONGO_DATABASE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "NOTIFY_RELAY",
		"RABBITMQ_URL", "RABBIT_URL", "RABBITMQ_EXCHANGE", "RABBIT_EXCHANGE", "EVENTS_PUBLISH",
		"JWT_SECRET", "JWT_ISSUER", "RL_ENABLED", "RL_REQUESTS_LIMIT", "RL_WINDOW_SECONDS",
		"TX_MAX_ATTEMPTS", "TIMEZONE", "ROLLOVER_CRON", "CATALOG_FILE", "CORS_ORIGINS", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.True(t, cfg.RLEnabled)
	assert.Equal(t, 100, cfg.RLLimit)
	assert.Equal(t, 60*time.Second, cfg.RLWindow)
	assert.Equal(t, 8, cfg.TxMaxAttempts)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, "0 0 * * *", cfg.RolloverCron)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "tablebook.events", cfg.RabbitExchange)
	assert.False(t, cfg.EventsPublish)
}

func TestLoad_MissingSecret(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.EqualError(t, err, "missing JWT_SECRET")
}

func TestLoad_PostgresFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("POSTGRES_ADDR", "db:5432")
	t.Setenv("POSTGRES_USER", "app")
	t.Setenv("POSTGRES_PASSWORD", "p@ss word")
	t.Setenv("POSTGRES_DB", "tablebook")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "postgres://app:p%40ss%20word@db:5432/tablebook?sslmode=disable", cfg.DBDSN)
}

func TestLoad_BackendValidation(t *testing.T) {
	cases := map[string]string{
		"postgres": "missing database config",
		"mongo":    "missing MONGO_URI",
		"etcd":     "invalid STORE_BACKEND",
	}
	for backend, want := range cases {
		t.Run(backend, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv("STORE_BACKEND", backend)
			_, err := Load()
			require.ErrorContains(t, err, want)
		})
	}
}

func TestLoad_BadTimezone(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := Load()
	require.ErrorContains(t, err, "invalid TIMEZONE")
}

func TestLoad_BadBoolPanics(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RL_ENABLED", "maybe")
	assert.Panics(t, func() { _, _ = Load() })
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}
