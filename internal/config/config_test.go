package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "PERSIST_TIMEOUT", "LOW_STOCK_THRESHOLD", "SEED_ADMIN_PASSWORD", "ACCESS_TOKEN_TTL_MINUTES")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, 5*time.Second, cfg.PersistTimeout)
	require.Equal(t, 5, cfg.LowStockThreshold)
	require.Equal(t, "admin", cfg.SeedAdminPassword)
	require.Equal(t, 480*time.Minute, cfg.AccessTokenTTL())
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PERSIST_TIMEOUT", "250ms")
	t.Setenv("LOW_STOCK_THRESHOLD", "2")
	t.Setenv("SESSION_TTL_MINUTES", "30")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Address())
	require.Equal(t, 250*time.Millisecond, cfg.PersistTimeout)
	require.Equal(t, 2, cfg.LowStockThreshold)
	require.Equal(t, 30*time.Minute, cfg.SessionTTL())
	require.True(t, cfg.IsProduction())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOOR_DOTENV_A=from-file\nNOOR_DOTENV_B=from-file\n"), 0o600))
	t.Setenv("NOOR_DOTENV_A", "from-env")
	unsetEnv(t, "NOOR_DOTENV_B")

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "from-env", os.Getenv("NOOR_DOTENV_A"))
	require.Equal(t, "from-file", os.Getenv("NOOR_DOTENV_B"))
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
