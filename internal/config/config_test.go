package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "INV", cfg.InvoicePrefix)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, []time.Duration{7 * 24 * time.Hour, 14 * 24 * time.Hour}, cfg.ReminderOffsets)
	assert.Equal(t, 50, cfg.RateLimitCapacity)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INVOICE_PREFIX", "TREE")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("REMINDER_OFFSETS", "24h, 72h")
	t.Setenv("RATE_LIMIT_CAPACITY", "5")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "1.5")

	cfg := Load()

	assert.Equal(t, "TREE", cfg.InvoicePrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []time.Duration{24 * time.Hour, 72 * time.Hour}, cfg.ReminderOffsets)
	assert.Equal(t, 5, cfg.RateLimitCapacity)
	assert.Equal(t, 1.5, cfg.RateLimitRefill)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_CAPACITY", "many")
	t.Setenv("REMINDER_OFFSETS", "whenever")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 50, cfg.RateLimitCapacity)
	assert.Equal(t, []time.Duration{7 * 24 * time.Hour, 14 * 24 * time.Hour}, cfg.ReminderOffsets)
}
