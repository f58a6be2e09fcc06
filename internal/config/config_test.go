package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Quota.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Quota.ReservationTTL)
	assert.Equal(t, 3, cfg.Compose.MaxAttempts)
	assert.Equal(t, int64(20*1024*1024), cfg.Attachments.MaxTotalBytes)
	assert.Contains(t, cfg.Attachments.AllowedTypes, "application/pdf")
	assert.Equal(t, 30*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, "log", cfg.Delivery.Transport)
	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, 5, cfg.Usage.TopRecipients)
	assert.Equal(t, time.Minute, cfg.Quota.SweepInterval)
	assert.Equal(t, 30, cfg.Security.RateLimiting.SendLimit)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:5173")
	assert.Equal(t, 7*24*time.Hour, cfg.Compose.DraftRetention)
	assert.Empty(t, cfg.Security.ServiceToken)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EZMAIL_QUOTA_BACKEND", "memory")
	t.Setenv("EZMAIL_DELIVERY_TIMEOUT", "5s")
	t.Setenv("EZMAIL_QUOTA_DEFAULT_PLAN_MONTHLY_MESSAGES", "5")
	t.Setenv("EZMAIL_COMPOSE_MAX_ATTEMPTS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Quota.Backend)
	assert.Equal(t, 5*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, int64(5), cfg.Quota.DefaultPlan.MonthlyMessages)
	assert.Equal(t, 7, cfg.Compose.MaxAttempts)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("EZMAIL_QUOTA_BACKEND", "etcd")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota.backend")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Quota:    QuotaConfig{Backend: "memory"},
		Delivery: DeliveryConfig{Transport: "pigeon"},
		Storage:  StorageConfig{Provider: "memory"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota.reservation_ttl")
	assert.Contains(t, err.Error(), "quota.sweep_interval")
	assert.Contains(t, err.Error(), "compose.max_attempts")
	assert.Contains(t, err.Error(), "delivery.transport")
	assert.Contains(t, err.Error(), "compose.draft_retention")
}

func TestLoad_RejectsReservationTTLWithinDeliveryTimeout(t *testing.T) {
	t.Setenv("EZMAIL_QUOTA_RESERVATION_TTL", "30s")
	t.Setenv("EZMAIL_DELIVERY_TIMEOUT", "45s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be longer than delivery.timeout")

	t.Setenv("EZMAIL_QUOTA_RESERVATION_TTL", "1m")
	_, err = Load()
	assert.NoError(t, err)
}

func TestUsageLocation(t *testing.T) {
	loc, err := UsageConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = UsageConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
