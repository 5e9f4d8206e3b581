package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, BackendREST, cfg.Backend.Kind)
	assert.Equal(t, 168*time.Hour, cfg.Business.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.Business.CheckoutLockTTL)
	assert.Equal(t, "@every 5m", cfg.Business.ReconcileCron)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BACKEND", "Postgres")
	t.Setenv("SESSION_TTL_HOURS", "2")
	t.Setenv("CHECKOUT_LOCK_SECONDS", "5")
	t.Setenv("RECONCILE_GRACE_MINUTES", "1")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://shop.example.com")
	t.Setenv("REDIS_ADDR", "")

	cfg := Load()

	assert.Equal(t, BackendPostgres, cfg.Backend.Kind)
	assert.Equal(t, 2*time.Hour, cfg.Business.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.Business.CheckoutLockTTL)
	assert.Equal(t, time.Minute, cfg.Business.ReconcileGrace)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Empty(t, cfg.Redis.Addr)
}
