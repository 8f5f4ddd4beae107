package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	cfg := Load()
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, BackendRedis, cfg.LiveBackend)
	assert.Equal(t, "59 23 * * *", cfg.SweepSchedule)
	assert.Equal(t, 15*time.Minute, cfg.DeviceAccessTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9000\nSTORE_BACKEND=Memory\nMQTT_CLIENT_ID=from-file\n"), 0o600))

	t.Setenv("DOTENV_PATH", path)
	t.Setenv("MQTT_CLIENT_ID", "from-env")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DEVICE_ACCESS_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	// godotenv only fills variables that are absent, so these are unset rather than emptied.
	for _, key := range []string{"HTTP_PORT", "STORE_BACKEND"} {
		prev, had := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, prev)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	cfg := Load()
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "from-env", cfg.MQTTClientID, "environment wins over the file")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.DeviceAccessTTL, "invalid values fall back")
	assert.Equal(t, 30, cfg.RateLimitPerMin)
}

func TestValidate(t *testing.T) {
	base := App{StoreBackend: BackendMemory, LiveBackend: BackendMemory, SweepTimezone: "UTC", JWTSigningKey: "k"}
	require.NoError(t, base.Validate())

	bad := base
	bad.StoreBackend = "sqlite"
	assert.ErrorContains(t, bad.Validate(), "STORE_BACKEND")

	bad = base
	bad.LiveBackend = "kafka"
	assert.ErrorContains(t, bad.Validate(), "LIVE_BACKEND")

	bad = base
	bad.SweepTimezone = "Mars/Olympus"
	assert.ErrorContains(t, bad.Validate(), "SWEEP_TIMEZONE")

	bad = base
	bad.Env = "production"
	bad.JWTSigningKey = "dev-signing-secret-change"
	assert.ErrorContains(t, bad.Validate(), "JWT_SIGNING_KEY")
}
