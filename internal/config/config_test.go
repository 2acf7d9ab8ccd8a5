package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeflow")
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("PROVIDER_CLIENT_ID", "client-id")
	t.Setenv("PROVIDER_CLIENT_SECRET", "client-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"database url", "DATABASE_URL"},
		{"session secret", "SESSION_SECRET"},
		{"jwt secret", "JWT_SECRET"},
		{"provider client id", "PROVIDER_CLIENT_ID"},
		{"provider client secret", "PROVIDER_CLIENT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.unset)
		})
	}
}

func TestLoad_BootstrapPairValidation(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BOOTSTRAP_USERNAME", "admin")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOOTSTRAP_USERNAME and BOOTSTRAP_PASSWORD")
}

func TestLoad_EncryptionKeyValidation(t *testing.T) {
	setRequiredEnv(t)

	t.Run("invalid hex", func(t *testing.T) {
		t.Setenv("TOKEN_ENCRYPTION_KEY", "not-hex")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Setenv("TOKEN_ENCRYPTION_KEY", "abcd")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("valid 32 bytes", func(t *testing.T) {
		t.Setenv("TOKEN_ENCRYPTION_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
		cfg, err := Load()
		require.NoError(t, err)
		assert.NotEmpty(t, cfg.TokenEncryptionKey)
	})
}
