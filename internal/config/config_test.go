package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "localhost:8000", cfg.Bind)
	require.Equal(t, SQLiteStore, cfg.Store)
	require.Equal(t, 500*time.Hour, cfg.TokenTTL)
	require.Equal(t, "IDBOX_TOKEN_SECRET", cfg.SecretEnvVar)
	require.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	require.False(t, cfg.FederationEnabled())
	require.Equal(t, uint32(7), cfg.PasswordParams().Time)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IDBOX_STORE", "mongo")
	t.Setenv("IDBOX_TOKEN_TTL", "15m")
	t.Setenv("IDBOX_GOOGLE_CLIENT_ID", "client-1")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, MongoStore, cfg.Store)
	require.Equal(t, 15*time.Minute, cfg.TokenTTL)
	require.True(t, cfg.FederationEnabled())
}

func TestLoadRejects(t *testing.T) {
	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("IDBOX_STORE", "postgres")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("IDBOX_TOKEN_TTL", "forever")
		_, err := Load()
		require.ErrorContains(t, err, "unable to parse environment")
	})
	t.Run("zero ttl", func(t *testing.T) {
		t.Setenv("IDBOX_TOKEN_TTL", "0s")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestParseSkipsValidation(t *testing.T) {
	t.Setenv("IDBOX_STORE", "postgres")
	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Store)
	require.Error(t, cfg.Validate())
}
